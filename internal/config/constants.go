package config

import "time"

// Application constants for the licensed daemon
const (
	// Application Info
	AppName   = "fitcore-licensed"
	AppVendor = "fitcore"

	// Environment
	EnvPrefix     = "FIT"
	EnvConfigFile = "FIT_CONFIG"

	// License files
	DefaultLicenseFile   = "license.bin"
	LicenseFileBackup    = "license.bin.prev"
	DefaultWatchDebounce = 250 * time.Millisecond

	// DefaultMaxLicenseSize bounds license uploads
	DefaultMaxLicenseSize = 64 << 10

	// Persistence
	DefaultPageSize    = 4096
	DefaultRedisPrefix = "fitcore"

	// Rate Limiting
	DefaultRateLimit = 100 // requests per second
	DefaultBurstSize = 50

	// Logging
	DefaultLogFile = "logs/licensed.log"

	// Network Timeouts
	DefaultHTTPTimeout = 30 * time.Second
)
