package store

import "time"

// Config holds configuration for the Store.
type Config struct {
	// TableName is the DynamoDB table the store maps.
	TableName string

	// KeyAttribute is the name of the partition key attribute.
	// If empty, Open discovers it with DescribeTable.
	KeyAttribute string

	// ConsistentRead makes Get, Contains and scans strongly consistent.
	// Default: false
	ConsistentRead bool

	// UpsertOnUpdate lets Update create missing items instead of failing
	// with ErrNotFound.
	// Default: false
	UpsertOnUpdate bool

	// VersionAttribute enables optimistic concurrency. Every write through
	// the store increments the named numeric attribute, and IfVersion
	// conditions compare against it.
	// Default: "" (disabled)
	VersionAttribute string

	// MaxAttempts bounds how often an operation is tried when the table is
	// unavailable (throttling, 5xx, network errors).
	// Default: 4
	// Max: 10
	MaxAttempts int

	// MaxBackoff caps the jittered exponential delay between attempts.
	// Default: 2s
	MaxBackoff time.Duration

	// ScanPageSize is the Limit of each Scan request.
	// Default: 0 (service default, up to 1 MB per page)
	ScanPageSize int32
}

// DefaultConfig returns sensible defaults for the given table.
func DefaultConfig(table string) Config {
	return Config{
		TableName:   table,
		MaxAttempts: 4,
		MaxBackoff:  2 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 4
	}
	if c.MaxAttempts > 10 {
		c.MaxAttempts = 10
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.ScanPageSize < 0 {
		c.ScanPageSize = 0
	}
	if c.VersionAttribute == c.KeyAttribute {
		c.VersionAttribute = ""
	}
}
