// Package config loads the service configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then
// environment variables prefixed with TIMEGUARD_. The result is checked with
// validator tags and a few cross-field rules.
//
//	server:
//	  addr: ":9090"
//	database:
//	  driver: postgres          # postgres or sqlite3
//	  url: postgres://localhost:5432/timeguard?sslmode=disable
//	  tx_timeout: 5s
//	auth:
//	  jwt_secret: ...           # at least 32 characters
//	audit:
//	  publisher: redis          # none, redis or kafka
//	archive:
//	  enabled: true
//	  schedule: "@hourly"
//	  bucket: timeguard-audit
//
// Every key has an environment form built from the section and the key,
// for example TIMEGUARD_DATABASE_URL or TIMEGUARD_AUDIT_PUBLISHER.
package config
