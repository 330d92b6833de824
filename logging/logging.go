// Package logging wires up log/slog as the module's logging facade (§7
// expansion), bridged to an OpenTelemetry log pipeline so a node's logs
// travel the same collector path as its traces and metrics.
//
// Grounded on the teacher's own direction away from quay/zlog: recent
// teacher packages (pkg/ctxlock/v2) call slog.WarnContext/DebugContext
// directly, and the teacher's go.mod already carries
// go.opentelemetry.io/contrib/bridges/otelslog plus the otel/log and
// otlploggrpc exporter stack this package puts to use.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Options configures New.
type Options struct {
	// ServiceName identifies this process to the OTel collector.
	ServiceName string
	// NodeIndex is attached to every log record as a "node_ix" attribute
	// (§7's structured-field requirement).
	NodeIndex int
	// OTLPEndpoint is the collector gRPC endpoint. Empty disables the OTel
	// exporter, leaving only the stderr text handler.
	OTLPEndpoint string
	// Level is the minimum level logged to stderr. Records sent to the
	// OTel exporter are not filtered by it.
	Level slog.Level
}

// Provider bundles the slog.Logger callers use with the sdklog.LoggerProvider
// backing its OTel bridge, so a node can Shutdown the exporter pipeline on
// exit.
type Provider struct {
	Logger *slog.Logger

	sdk *sdklog.LoggerProvider
}

// New builds a Provider per Options: a slog.Logger that fans every record
// out to a human-readable stderr handler and, when OTLPEndpoint is set, an
// OTel log pipeline via otelslog's bridge handler.
func New(ctx context.Context, opts Options) (*Provider, error) {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level})

	handlers := []slog.Handler{textHandler}
	var sdkProvider *sdklog.LoggerProvider

	if opts.OTLPEndpoint != "" {
		exp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(opts.OTLPEndpoint), otlploggrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("logging: otlp log exporter: %w", err)
		}
		res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", opts.ServiceName)))
		if err != nil {
			return nil, fmt.Errorf("logging: resource: %w", err)
		}
		sdkProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
		handlers = append(handlers, otelslog.NewHandler(opts.ServiceName, otelslog.WithLoggerProvider(sdkProvider)))
	}

	logger := slog.New(&fanoutHandler{handlers: handlers}).With(
		slog.Int("node_ix", opts.NodeIndex),
	)
	return &Provider{Logger: logger, sdk: sdkProvider}, nil
}

// Shutdown flushes and closes the OTel log exporter, if one was
// configured.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Component returns a child logger tagged with a "component" attribute,
// the convention §7 asks every log call to carry (alongside node_ix and,
// where applicable, channel).
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With(slog.String("component", name))
}

// Channel returns a child logger additionally tagged with a "channel"
// attribute for per-query log lines.
func Channel(l *slog.Logger, backend, name string) *slog.Logger {
	return l.With(slog.String("channel", backend+"/"+name))
}

// fanoutHandler dispatches every record to all of its wrapped handlers,
// so a single slog.Logger can write to stderr and export to OTel at once.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
