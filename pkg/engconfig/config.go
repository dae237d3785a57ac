// Package engconfig loads the engine core's external configuration
// contract: worker count, per-pool size budgets, SIMD alignment,
// compaction, and streaming cache budget. Values come from environment
// variables (LIBETUDE_* prefix) or a YAML device-class policy file
// (desktop.yaml / mobile.yaml / thermal.yaml style), mirroring the way
// the teacher loads NORNICDB_* env vars and apoc's YAML config.
package engconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/libetude/pkg/errs"
)

// PoolSizes holds the max byte budget for each named memory pool.
type PoolSizes struct {
	Analysis  int64 `yaml:"analysis"`
	Synthesis int64 `yaml:"synthesis"`
	Cache     int64 `yaml:"cache"`
}

// Config is the configuration ingested by the core, per spec.md §6:
// {worker_count, max_pool_sizes[analysis|synthesis|cache],
// simd_alignment (16|32|64), compaction_enabled, streaming_cache_budget_bytes}.
type Config struct {
	WorkerCount               int       `yaml:"worker_count"`
	MaxPoolSizes              PoolSizes `yaml:"max_pool_sizes"`
	SIMDAlignment             int       `yaml:"simd_alignment"`
	CompactionEnabled         bool      `yaml:"compaction_enabled"`
	StreamingCacheBudgetBytes int64     `yaml:"streaming_cache_budget_bytes"`
}

// Default returns the configuration used when no environment variable or
// file overrides a field: an 8-worker pool (the §5 "W ≤ 8 by default" cap),
// 64-byte SIMD alignment, compaction on, and a 256 MiB streaming budget.
func Default() Config {
	return Config{
		WorkerCount: 8,
		MaxPoolSizes: PoolSizes{
			Analysis:  64 << 20,
			Synthesis: 128 << 20,
			Cache:     32 << 20,
		},
		SIMDAlignment:             64,
		CompactionEnabled:         true,
		StreamingCacheBudgetBytes: 256 << 20,
	}
}

// LoadFromEnv reads LIBETUDE_* environment variables over Default(),
// leaving any unset variable at its default value.
func LoadFromEnv() Config {
	c := Default()

	c.WorkerCount = getEnvInt("LIBETUDE_WORKER_COUNT", c.WorkerCount)
	c.MaxPoolSizes.Analysis = getEnvInt64("LIBETUDE_POOL_SIZE_ANALYSIS", c.MaxPoolSizes.Analysis)
	c.MaxPoolSizes.Synthesis = getEnvInt64("LIBETUDE_POOL_SIZE_SYNTHESIS", c.MaxPoolSizes.Synthesis)
	c.MaxPoolSizes.Cache = getEnvInt64("LIBETUDE_POOL_SIZE_CACHE", c.MaxPoolSizes.Cache)
	c.SIMDAlignment = getEnvInt("LIBETUDE_SIMD_ALIGNMENT", c.SIMDAlignment)
	c.CompactionEnabled = getEnvBool("LIBETUDE_COMPACTION_ENABLED", c.CompactionEnabled)
	c.StreamingCacheBudgetBytes = getEnvInt64("LIBETUDE_STREAMING_CACHE_BUDGET_BYTES", c.StreamingCacheBudgetBytes)

	return c
}

// LoadFile decodes a YAML device-class policy file (desktop.yaml,
// mobile.yaml, thermal.yaml) over Default(); a field the file omits
// keeps its default rather than zeroing out.
func LoadFile(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New("engconfig.LoadFile", errs.FileIO, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, errs.New("engconfig.LoadFile", errs.InvalidFormat, err)
	}
	return c, nil
}

// Validate rejects a non-power-of-two SIMD alignment and a zero (or
// negative) worker count, mirroring the teacher's Config.Validate().
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return errs.New("engconfig.Validate", errs.InvalidParameter, fmt.Errorf("worker count must be positive, got %d", c.WorkerCount))
	}
	if !isPowerOfTwo(c.SIMDAlignment) {
		return errs.New("engconfig.Validate", errs.InvalidParameter, fmt.Errorf("simd alignment must be a power of two, got %d", c.SIMDAlignment))
	}
	if c.MaxPoolSizes.Analysis <= 0 || c.MaxPoolSizes.Synthesis <= 0 || c.MaxPoolSizes.Cache <= 0 {
		return errs.New("engconfig.Validate", errs.InvalidParameter, fmt.Errorf("pool sizes must be positive: %+v", c.MaxPoolSizes))
	}
	if c.StreamingCacheBudgetBytes < 0 {
		return errs.New("engconfig.Validate", errs.InvalidParameter, fmt.Errorf("streaming cache budget must be non-negative, got %d", c.StreamingCacheBudgetBytes))
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
