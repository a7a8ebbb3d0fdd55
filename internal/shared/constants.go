package shared

import "time"

// HTTP Client Configuration
const (
	DefaultShutdownTimeout = 10 * time.Second
)

// Access Configuration
const (
	// Environment variables carrying valid access keys are named with this
	// prefix; their values form the valid key set.
	AccessKeyPrefix = "SPARROW_KEY_"
)

// Cache Configuration
const (
	AnswerCacheTTL = 30 * time.Minute
)

// API Configuration
const (
	DefaultPort       = 8000
	DefaultConfigPath = "config.yml"
)
