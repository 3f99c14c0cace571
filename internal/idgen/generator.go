// Package idgen produces chat message identifiers.
package idgen

import (
	"fmt"
	"strings"
)

// Generator hands out identifiers that are unique for the life of the process.
type Generator interface {
	Generate() (string, error)
	Name() string
}

const (
	StrategyULID      = "ulid"
	StrategyUUID      = "uuid"
	StrategyKSUID     = "ksuid"
	StrategyNanoID    = "nanoid"
	StrategyCUID2     = "cuid2"
	StrategySnowflake = "snowflake"
)

// Config selects a strategy and its tunables.
type Config struct {
	Strategy       string `mapstructure:"strategy"`
	NanoIDSize     int    `mapstructure:"nanoid_size"`
	NanoIDAlphabet string `mapstructure:"nanoid_alphabet"`
	CUID2Length    int    `mapstructure:"cuid2_length"`
	MachineID      int64  `mapstructure:"machine_id"`
	Epoch          int64  `mapstructure:"epoch"` // unix ms, snowflake only
}

// New builds the generator named by cfg.Strategy. An empty strategy means ULID.
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", StrategyULID:
		return NewULIDGenerator(), nil
	case StrategyUUID:
		return NewUUIDGenerator(), nil
	case StrategyKSUID:
		return NewKSUIDGenerator(), nil
	case StrategyNanoID:
		size, alphabet := cfg.NanoIDSize, cfg.NanoIDAlphabet
		if size == 0 {
			size = DefaultNanoIDSize
		}
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoIDGenerator(size, alphabet)
	case StrategyCUID2:
		length := cfg.CUID2Length
		if length == 0 {
			length = DefaultCUID2Length
		}
		return NewCUID2Generator(length)
	case StrategySnowflake:
		epoch := cfg.Epoch
		if epoch == 0 {
			epoch = DefaultSnowflakeEpoch
		}
		return NewSnowflakeGenerator(cfg.MachineID, epoch)
	default:
		return nil, fmt.Errorf("unknown id strategy: %s", cfg.Strategy)
	}
}
