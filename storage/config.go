package storage

import "log/slog"

// DefaultMemoryBudget is the default resident byte budget of a cache.
const DefaultMemoryBudget = 64 << 20

// Config holds the cache parameters. They are fixed for the life of a
// cache.
type Config struct {
	Dir          string       `yaml:"dir"`           // Artifact directory
	MemoryBudget uint64       `yaml:"memory_budget"` // Resident byte budget, 0 means the default
	Compress     bool         `yaml:"compress"`      // Snappy-compress artifacts
	Logger       *slog.Logger `yaml:"-"`             // Nil discards logs
}

// DefaultConfig returns a config with the default budget and no
// compression. Dir must still be set.
func DefaultConfig() Config {
	return Config{
		MemoryBudget: DefaultMemoryBudget,
	}
}

func (c Config) budget() uint64 {
	if c.MemoryBudget == 0 {
		return DefaultMemoryBudget
	}
	return c.MemoryBudget
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
