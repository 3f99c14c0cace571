package idgen

import (
	"fmt"

	"github.com/nrednav/cuid2"
)

const DefaultCUID2Length = 24

type CUID2Generator struct {
	generate func() string
}

// NewCUID2Generator accepts lengths between 16 and 32.
func NewCUID2Generator(length int) (*CUID2Generator, error) {
	if length < 16 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 16 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2Generator{generate: gen}, nil
}

func (g *CUID2Generator) Generate() (string, error) {
	return g.generate(), nil
}

func (g *CUID2Generator) Name() string { return StrategyCUID2 }
