// Package alerts holds the alert store, the built-in alert rules applied at
// ingestion, and webhook delivery of new alerts to Slack, Discord, Teams or
// generic HTTP targets.
package alerts
