// Package config provides configuration management for the spendwise meter.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SPENDWISE_SECTION_FIELD.
// For example:
//
//   - SPENDWISE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - SPENDWISE_LEDGER_BACKEND overrides ledger.backend
//   - SPENDWISE_GATE_FAIL_OPEN overrides gate.fail_open
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and invokes a
// callback with the freshly loaded configuration after a debounce period.
// Only the price table and the alert ladder are swapped at runtime; storage
// and server settings require a restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8090"
//	ledger:
//	  backend: "postgres"
//	  postgres:
//	    host: "db.internal"
//	    user: "spendwise"
//	pricing:
//	  models:
//	    openai:
//	      gpt-4o: {input: 5.0, output: 15.0}
//	alerts:
//	  store: "redis"
//	  redis:
//	    addr: "redis.internal:6379"
//	gate:
//	  timeout: "200ms"
//	  fail_open: false
package config
