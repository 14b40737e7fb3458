// Package config provides configuration management for the licensed daemon.
// It loads configuration from multiple sources, validates it, and resolves the
// file paths the daemon works with.
//
// # Configuration Sources
//
// Configuration is built in layers, later layers winning:
//
//	1. Default values
//	2. The YAML file named by FIT_CONFIG
//	3. Environment variables
//
// # Environment Variables
//
// Environment variables are named FIT_<SECTION>_<FIELD>:
//
//	FIT_KEYS_AES_KEY=2b7e151628aed2a6abf7158809cf4f3c
//	FIT_CORE_CAPABILITIES=aes,clock,persistence
//	FIT_PERSISTENCE_BACKEND=redis
//	FIT_PERSISTENCE_REDIS_ADDR=localhost:6379
//	FIT_SERVER_PORT=8080
//	FIT_LOGGING_LEVEL=debug
//
// # Validation
//
// Field rules are checked with go-playground/validator. Cross-section rules
// follow: a persistence capability needs a backend, every configured key
// needs its capability, and file logging needs a path.
//
// # Path Management
//
// Relative paths resolve against a base directory, the executable
// directory by default:
//
//	paths, err := cfg.GetPaths("")
//	data, err := os.ReadFile(paths.LicenseFile)
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
