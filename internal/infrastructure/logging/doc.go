// Package logging provides structured logging for the fleet sync core.
//
// It wraps log/slog with JSON or text output, default service/version
// attributes, a runtime-adjustable level and component child loggers.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	syncLog := logger.Component("fleet").With("manufacturer", "shure")
//	syncLog.Info("poll complete", "created", 3)
//
// Never log vendor API tokens or broker passwords.
package logging
