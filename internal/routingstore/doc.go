// Package routingstore persists runtime routing configuration (filter
// table and routing mode) in SQLite so changes made over MQTT or the HTTP
// API survive a restart.
//
// The schema lives in the top-level migrations package. Values stored here
// take precedence over the config file at startup.
package routingstore
