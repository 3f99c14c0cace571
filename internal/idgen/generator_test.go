package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrategies(t *testing.T) {
	tests := []struct {
		strategy string
		wantName string
		wantLen  int
	}{
		{"", StrategyULID, 26},
		{"ULID", StrategyULID, 26},
		{"uuid", StrategyUUID, 36},
		{"ksuid", StrategyKSUID, 27},
		{"nanoid", StrategyNanoID, DefaultNanoIDSize},
		{"cuid2", StrategyCUID2, DefaultCUID2Length},
		{"snowflake", StrategySnowflake, 0},
	}

	for _, tt := range tests {
		t.Run(tt.wantName+"/"+tt.strategy, func(t *testing.T) {
			gen, err := New(Config{Strategy: tt.strategy})
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, gen.Name())

			id, err := gen.Generate()
			require.NoError(t, err)
			assert.NotEmpty(t, id)
			if tt.wantLen > 0 {
				assert.Len(t, id, tt.wantLen)
			}
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Strategy: "sequential"})
	assert.Error(t, err)

	_, err = New(Config{Strategy: "nanoid", NanoIDSize: 4})
	assert.Error(t, err)

	_, err = New(Config{Strategy: "cuid2", CUID2Length: 64})
	assert.Error(t, err)

	_, err = New(Config{Strategy: "snowflake", MachineID: 5000})
	assert.Error(t, err)
}

func TestGeneratorsAreUniqueUnderConcurrency(t *testing.T) {
	for _, strategy := range []string{StrategyULID, StrategyUUID, StrategyKSUID, StrategyNanoID, StrategyCUID2, StrategySnowflake} {
		t.Run(strategy, func(t *testing.T) {
			gen, err := New(Config{Strategy: strategy})
			require.NoError(t, err)

			const workers, perWorker = 8, 250
			var (
				mu   sync.Mutex
				seen = make(map[string]struct{}, workers*perWorker)
				wg   sync.WaitGroup
			)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						id, err := gen.Generate()
						if !assert.NoError(t, err) {
							return
						}
						mu.Lock()
						seen[id] = struct{}{}
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Len(t, seen, workers*perWorker)
		})
	}
}

func TestULIDIsMonotonic(t *testing.T) {
	gen := NewULIDGenerator()
	prev := ""
	for i := 0; i < 1000; i++ {
		id, err := gen.Generate()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestSnowflakeWaitsOutExhaustedSequence(t *testing.T) {
	gen, err := NewSnowflakeGenerator(1, DefaultSnowflakeEpoch)
	require.NoError(t, err)

	ms := DefaultSnowflakeEpoch + 1000
	calls := 0
	gen.now = func() int64 {
		calls++
		if calls > maxSequence+2 {
			return ms + 1
		}
		return ms
	}

	seen := make(map[string]struct{})
	for i := 0; i < maxSequence+3; i++ {
		id, err := gen.Generate()
		require.NoError(t, err)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, maxSequence+3)
}
