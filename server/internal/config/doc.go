// Package config loads the server configuration from config.yaml.
//
// Sections:
//   - log          : slog level
//   - server       : HTTP port, API-key auth, ingest rate limit
//   - limits       : store capacities
//   - retention    : sample and alert retention, sweep interval
//   - thresholds   : slow-response alert and health boundaries (hot-reloaded)
//   - notifications: webhook channels; URLs come from environment variables
//   - dashboard    : broadcast interval and the named metrics it shows
//   - scrape       : Prometheus endpoints recorded as named metrics
//   - collector    : host CPU and memory sampling
//
// Load(path) applies defaults before unmarshalling, then validates.
// LoadDotEnv loads .env files so *_env references resolve in development.
// Watch reloads the file on change.
package config
