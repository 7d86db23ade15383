// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Entries are written to stderr and tagged with the
// service name; submission handlers add the learner and exercise ids.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
