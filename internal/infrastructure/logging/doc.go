// Package logging provides structured logging for devicesync.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session initialised", "owner_id", id)
//
// Never log passwords, tokens or MQTT credentials.
package logging
