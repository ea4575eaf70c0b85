package logger

import (
	"context"

	"github.com/hyperdxio/opentelemetry-go/otelzap"
	sdk "github.com/hyperdxio/opentelemetry-logs-go/sdk/logs"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type LoggerConnectProps struct {
	Production     bool
	LoggerProvider *sdk.LoggerProvider
	// Logger overrides the constructed zap logger. Tests pass zap.NewNop().
	Logger *zap.Logger
}

type LogMiddleware struct {
	logger *zap.Logger
}

func Connect(args LoggerConnectProps) *LogMiddleware {
	var logger *zap.Logger

	switch {
	case args.Logger != nil:
		logger = args.Logger
	case args.Production && args.LoggerProvider != nil:
		logger = zap.New(otelzap.NewOtelCore(args.LoggerProvider))
		zap.ReplaceGlobals(logger)
		logger.Info("[Logger] Starting Logger with Prod Config")
	default:
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	return &LogMiddleware{logger: logger}
}

// Nop returns a middleware that discards everything.
func Nop() *LogMiddleware {
	return &LogMiddleware{logger: zap.NewNop()}
}

func (l *LogMiddleware) Logger(ctx context.Context) *zap.Logger {
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return l.logger
	}

	return l.logger.With(
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	)
}

// SessionLogger tags every line with the coaching session it belongs to.
func (l *LogMiddleware) SessionLogger(ctx context.Context, sessionID string) *zap.Logger {
	return l.Logger(ctx).With(zap.String("session_id", sessionID))
}

func (l *LogMiddleware) Sync() {
	_ = l.logger.Sync()
}
