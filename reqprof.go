// Package reqprof wires request scoped CPU profiling into an HTTP service.
//
// A Probe owns the process wide profiling mode, the profiling engine, the
// history of finished profiles and the tracer provider the request spans are
// reported to.
package reqprof

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fllarpy/reqprof/config"
	"github.com/fllarpy/reqprof/exporter"
	"github.com/fllarpy/reqprof/infrastructure/storage/inmemory"
	insthttp "github.com/fllarpy/reqprof/instrumentation/http"
	"github.com/fllarpy/reqprof/internal/ports/http_middleware"
	"github.com/fllarpy/reqprof/internal/ports/http_reporter"
	"github.com/fllarpy/reqprof/profiling"
)

// Version is the version reported by the CLI and in the trace resource.
const Version = "0.1.0"

type Probe struct {
	cfg    config.Config
	logger logrus.FieldLogger

	mode   *profiling.Mode
	engine *profiling.Engine
	store  *inmemory.Store
	tp     *sdktrace.TracerProvider
}

// NewProbe builds a probe from cfg. Profiling starts enabled only when
// cfg.Enabled is set. Profiled server spans are always logged at debug level
// and additionally exported over OTLP/HTTP when cfg.OTLPEndpoint is set.
func NewProbe(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*Probe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	res, err := newResource(cfg.ServiceName, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter.NewProfileExporter(logger)),
	}
	if cfg.OTLPEndpoint != "" {
		otlp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(otlp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	engine := profiling.NewEngine(logger)
	p := &Probe{
		cfg:    cfg,
		logger: logger,
		mode:   profiling.NewMode(engine, logger),
		engine: engine,
		store:  inmemory.NewStore(cfg.HistorySize),
		tp:     tp,
	}
	if cfg.Enabled {
		p.mode.Enable(cfg.Silent)
	}

	logger.WithFields(logrus.Fields{
		"service":  cfg.ServiceName,
		"enabled":  cfg.Enabled,
		"history":  cfg.HistorySize,
		"exporter": cfg.OTLPEndpoint,
	}).Info("Request profiler initialized")
	return p, nil
}

// Mode returns the profiling mode shared by every request.
func (p *Probe) Mode() *profiling.Mode {
	return p.mode
}

// Store returns the history of finished profiles.
func (p *Probe) Store() *inmemory.Store {
	return p.store
}

// EnableProfiling turns profiling on for requests that arrive afterwards.
func (p *Probe) EnableProfiling(silent bool) {
	p.mode.Enable(silent)
}

// DisableProfiling turns profiling off for requests that arrive afterwards.
func (p *Probe) DisableProfiling() {
	p.mode.Disable()
}

// Middleware returns the profiling middleware bound to this probe.
func (p *Probe) Middleware() func(http.Handler) http.Handler {
	return http_middleware.ProfilingMiddleware(p.mode, p.store, p.logger)
}

// Wrap instruments next with a server span and per-request profiling. The
// span is opened first so the profile attributes land on it.
func (p *Probe) Wrap(next http.Handler, operation string) http.Handler {
	return insthttp.NewMiddleware(p.Middleware()(next), operation, otelhttp.WithTracerProvider(p.tp))
}

// ControlHandler returns the control API mounted under the configured prefix.
func (p *Probe) ControlHandler() (http.Handler, error) {
	return http_reporter.NewHandler(p.cfg.ControlPrefix, p.mode, p.store, p.logger)
}

// Shutdown disables profiling, stops the profiling engine and flushes
// pending spans.
func (p *Probe) Shutdown(ctx context.Context) error {
	p.mode.Disable()
	p.engine.Close()
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

func newResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}
