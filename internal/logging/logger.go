// Package logging holds the process logger.  Events created through the
// context helpers carry the trace and span ids of the active span so log
// lines can be joined with traces.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the process logger.  Development uses a console writer
// with caller information; everything else writes JSON.
func Init(isDevelopment bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if isDevelopment {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
}

// SetOutput redirects the logger, mostly for tests.
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Logger()
}

func Logger() *zerolog.Logger {
	return &logger
}

// WithContext returns the logger enriched with traceId/spanId when ctx
// carries a valid span.
func WithContext(ctx context.Context) zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}

	return logger.With().
		Str("traceId", span.SpanContext().TraceID().String()).
		Str("spanId", span.SpanContext().SpanID().String()).
		Logger()
}

func Info(ctx context.Context) *zerolog.Event {
	l := WithContext(ctx)
	return l.Info()
}

func Error(ctx context.Context) *zerolog.Event {
	l := WithContext(ctx)
	return l.Error()
}

func Debug(ctx context.Context) *zerolog.Event {
	l := WithContext(ctx)
	return l.Debug()
}

func Warn(ctx context.Context) *zerolog.Event {
	l := WithContext(ctx)
	return l.Warn()
}
