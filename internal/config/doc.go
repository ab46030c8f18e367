// Package config handles configuration loading for supportd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	broker:
//	  url: "${SUPPORTD_AMQP_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	presence:
//	  heartbeat_timeout: "90s"
//	  sweep_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # health and metrics endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/supportd/supportd.db"
//
// Notification broker:
//
//	broker:
//	  enabled: true
//	  url: "${SUPPORTD_AMQP_URL}"
//	  exchange: "supportd.events"
//
// Assignment limits:
//
//	assignment:
//	  max_conversations_per_agent: 5
//	  high_priority_limit: 3
//	  waiting_pickup_batch: 3
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/supportd/supportd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
