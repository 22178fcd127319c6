// Package config provides configuration management for tds.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. The file lives at ~/.tds/config.yaml and is created
// with defaults on first use.
//
// # Environment Variables
//
// Every value can be overridden with a TDS_ environment variable. Nested
// fields are separated by underscores.
//
// Examples:
//   - TDS_LOGGING_LEVEL=debug
//   - TDS_DOWNLOAD_ATTEMPTS=5
//   - TDS_S3_ENABLED=true
//   - TDS_GITHUB_TOKEN=ghp_...
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	eng, err := engine.New(cfg)
package config
