package exporter

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain/profiles"
)

// Status attributes otelhttp sets on server spans, before and after the
// stable HTTP semantic conventions.
const (
	httpStatusKey       = "http.status_code"
	httpStableStatusKey = "http.response.status_code"
)

// ProfileExporter is a span exporter that logs the server spans annotated by
// the profiling middleware. Spans without a profile are ignored.
type ProfileExporter struct {
	logger logrus.FieldLogger
}

func NewProfileExporter(logger logrus.FieldLogger) *ProfileExporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProfileExporter{logger: logger}
}

func (e *ProfileExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if span.SpanKind() != trace.SpanKindServer {
			continue
		}
		e.processServerSpan(span)
	}
	return nil
}

func (e *ProfileExporter) Shutdown(ctx context.Context) error {
	return nil
}

func (e *ProfileExporter) processServerSpan(span sdktrace.ReadOnlySpan) {
	fields := logrus.Fields{
		"span":     span.Name(),
		"trace_id": span.SpanContext().TraceID().String(),
		"latency":  span.EndTime().Sub(span.StartTime()),
	}

	profiled := false
	for _, attr := range span.Attributes() {
		switch attr.Key {
		case profiles.AttrName:
			profiled = true
			fields["profile"] = attr.Value.AsString()
		case profiles.AttrDurationMs:
			fields["duration_ms"] = attr.Value.AsInt64()
		case profiles.AttrSamples:
			fields["samples"] = attr.Value.AsInt64()
		case httpStatusKey, httpStableStatusKey:
			fields["status"] = attr.Value.AsInt64()
		}
	}
	if !profiled {
		return
	}

	entry := e.logger.WithFields(fields)
	if span.Status().Code == codes.Error {
		entry.Warn("Profiled request failed")
		return
	}
	entry.Debug("Profiled request")
}
