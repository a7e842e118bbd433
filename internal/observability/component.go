package observability

import "go.uber.org/zap"

// FieldLogger is the structured logging surface shared by gofulmen loggers and *zap.Logger.
type FieldLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// ComponentLogger returns the server logger when initialized, then the CLI
// logger, then a no-op logger. Core packages take a FieldLogger so tests can
// pass zap.NewNop().
func ComponentLogger() FieldLogger {
	if ServerLogger != nil {
		return ServerLogger
	}
	if CLILogger != nil {
		return CLILogger
	}
	return zap.NewNop()
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger FieldLogger) FieldLogger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
