package partition

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/a-poor/shardset/storage"
)

// DefaultMaxShardSize is the default number of keys a shard may hold
// before it is split.
const DefaultMaxShardSize = 1024

// Config holds the manager parameters. They are fixed once the manager is
// open.
type Config struct {
	storage.Config `yaml:",inline"`

	// MaxShardSize is the most keys a shard holds before it splits.
	MaxShardSize int `yaml:"max_shard_size"`

	// MergeThreshold is the size at or below which a shard merges with a
	// neighbor. Zero derives it as MaxShardSize >> 3; negative disables
	// merging.
	MergeThreshold int `yaml:"merge_threshold"`

	// Seed seeds the default treap shards. Zero picks a random seed.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns the default configuration. Dir must still be set.
func DefaultConfig() Config {
	return Config{
		Config:       storage.DefaultConfig(),
		MaxShardSize: DefaultMaxShardSize,
	}
}

// LoadConfig reads a YAML config file. Keys missing from the file keep
// their defaults.
//
//	dir: /var/lib/shardset
//	max_shard_size: 4096
//	memory_budget: 268435456
//	compress: true
func LoadConfig(p string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(p)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %q", p)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config file %q", p)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for values the manager cannot work with.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("config: dir is required")
	}
	if c.MaxShardSize != 0 && c.MaxShardSize < 2 {
		return errors.Newf("config: max_shard_size must be at least 2, got %d", c.MaxShardSize)
	}
	if t := c.mergeThreshold(); t >= 0 && 2*t >= c.maxShardSize() {
		return errors.Newf(
			"config: merge_threshold %d must be below half of max_shard_size %d",
			t, c.maxShardSize(),
		)
	}
	return nil
}

func (c Config) maxShardSize() int {
	if c.MaxShardSize == 0 {
		return DefaultMaxShardSize
	}
	return c.MaxShardSize
}

// mergeThreshold returns the low-water mark, or -1 if merging is off.
func (c Config) mergeThreshold() int {
	switch {
	case c.MergeThreshold < 0:
		return -1
	case c.MergeThreshold == 0:
		return c.maxShardSize() >> 3
	default:
		return c.MergeThreshold
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
