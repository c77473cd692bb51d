package observability

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It stays nil until InitLogger or
// InitConsoleLogger runs; GetLogger then hands out a no-op logger so
// library code and tests stay quiet.
var Log *zap.Logger

// InitLogger installs the JSON production logger used by the server.
func InitLogger(serviceName string) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	Log = logger.With(zap.String("service", serviceName))
}

// InitConsoleLogger installs a human readable logger on stderr for the
// command line client.
func InitConsoleLogger(serviceName string, level zapcore.Level) {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	Log = zap.New(core).Named(serviceName)
}

func GetLogger(ctx context.Context) *zap.Logger {
	logger := Log
	if logger == nil {
		logger = zap.NewNop()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With(
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	return logger
}
