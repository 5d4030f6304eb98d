package logger

import (
	"github.com/teranos/repost/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol is a structured field, not part of the message, so logs stay
// queryable by subsystem.
//
// Usage:
//
//	type Scheduler struct {
//	    pulseLog *zap.SugaredLogger
//	}
//	s.pulseLog = logger.AddPulseSymbol(baseLogger)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// AddSymbol wraps a logger with an arbitrary symbol field.
func AddSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	return l.With(FieldSymbol, symbol)
}

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.PulseClose)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.DB)
}

// AddCaptchaSymbol wraps a logger with the Captcha symbol (⌬)
func AddCaptchaSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Captcha)
}

// AddPostSymbol wraps a logger with the Post symbol (⟶)
func AddPostSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Post)
}
