// Package observe bundles structured logging and tracing for the engine,
// the scheduler and the HTTP surface.
//
// Spans go to the global OpenTelemetry tracer provider unless one is set with
// WithTracerProvider. Until the embedding program installs a provider they
// are no-ops; log lines written through LogCtx pick up trace and span IDs as
// soon as one is installed.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/scrypster/mnemo"

// Observer handles logging and tracing.
type Observer struct {
	log    *bolt.Logger
	tracer trace.Tracer
}

func newObserver(h bolt.Handler, verbose bool) *Observer {
	l := bolt.New(h)
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l, tracer: otel.Tracer(tracerName)}
}

// New creates an Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.NewConsoleHandler(out), verbose)
}

// NewJSON creates an Observer with JSON output.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.NewJSONHandler(out), verbose)
}

// NewFromFormat picks the console or JSON handler by name.
func NewFromFormat(out io.Writer, format string, verbose bool) *Observer {
	if format == "json" {
		return NewJSON(out, verbose)
	}
	return New(out, verbose)
}

// Discard returns an Observer that drops all output.
func Discard() *Observer {
	return NewJSON(io.Discard, false)
}

// WithTracerProvider returns a copy of o whose spans come from tp.
func (o *Observer) WithTracerProvider(tp trace.TracerProvider) *Observer {
	return &Observer{log: o.log, tracer: tp.Tracer(tracerName)}
}

// Component returns a copy of o whose log lines carry component=name.
func (o *Observer) Component(name string) *Observer {
	return &Observer{log: o.log.With().Str("component", name).Logger(), tracer: o.tracer}
}

// Log returns the underlying logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// LogCtx returns the logger annotated with the trace and span IDs of the
// span in ctx, if any.
func (o *Observer) LogCtx(ctx context.Context) *bolt.Logger {
	return o.log.Ctx(ctx)
}

// StartSpan starts a span named name as a child of any span in ctx.
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name)
}
