// Package config handles configuration loading for taskboard-gateway.
//
// # Overview
//
// Configuration is read from a YAML file, or a TOML file when the path ends
// in .toml. Unset optional fields take the values from Default().
//
// # Configuration File
//
// The taskboard command looks in order at:
//
//  1. Path from TASKBOARD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/taskboard/gateway.yaml
//  3. ~/.config/taskboard/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TASKBOARD_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	realtime:
//	  handshake_timeout: "10s"
//	  ping_period: "30s"
//	  pong_wait: "60s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and /ws
//	  grpc_addr: "0.0.0.0:50051"  # Board/Connect stream
//
//	database:
//	  driver: "sqlite"            # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/taskboard/board.db"
//
//	auth:
//	  jwt_secret: "${TASKBOARD_JWT_SECRET}"  # at least 32 bytes
//	  token_ttl: "24h"
//
//	realtime:
//	  send_buffer: 64
//	  project_access: "members"   # members or open
//
//	relay:
//	  redis_url: "redis://localhost:6379/0"  # empty disables the relay
//	  channel: "taskboard:events"
//
//	dedupe:
//	  backend: "memory"           # memory or redis
//	  ttl: "10m"
//	  max_entries: 10000
//
//	notifier:
//	  enabled: true
//	  timezone: "Asia/Kolkata"
//	  reminder_hour: 2
//	  summary_weekday: "monday"
//	  summary_hour: 3
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
