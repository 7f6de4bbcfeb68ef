// Package config provides configuration management for Sentinel.
//
// Configuration is loaded from YAML with environment variable overrides:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("sentinel.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SENTINEL_SECTION_FIELD:
//
//   - SENTINEL_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - SENTINEL_STORE_BACKEND overrides store.backend
//   - SENTINEL_NOTIFY_SLACK_WEBHOOK_URL overrides notify.slack.webhook_url
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	store:
//	  backend: "redis"
//	  redis:
//	    url: "redis://redis:6379/0"
//
//	audit:
//	  backend: "postgres"
//	  postgres:
//	    host: "db"
//	    database: "governance"
//
//	policy:
//	  policy_id: "default-governance"
//	  file_path: "./policy.yaml"
//	  watch: true
//
//	notify:
//	  slack:
//	    enabled: true
//	    webhook_url: "https://hooks.slack.com/services/..."
//
// The global singleton (Initialize, GetConfig) is available for the CLI;
// library packages receive their sections explicitly.
package config
