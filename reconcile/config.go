package reconcile

const (
	defaultConcurrency = 8
	maxConcurrency     = 64
	defaultLockStripes = 256
)

// Config holds the reconciler settings.
type Config struct {
	// Concurrency bounds the number of rows written at once.
	// Default: 8, max: 64.
	Concurrency int

	// LockStripes is the number of per-key lock stripes. Default: 256.
	LockStripes int
}

// DefaultConfig returns the default reconciler settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: defaultConcurrency,
		LockStripes: defaultLockStripes,
	}
}

func (c *Config) validate() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	if c.LockStripes <= 0 {
		c.LockStripes = defaultLockStripes
	}
}
