package profiles

import "go.opentelemetry.io/otel/attribute"

// Span attributes set on the request span when a profile finishes.
const (
	AttrName       = attribute.Key("profile.name")
	AttrDurationMs = attribute.Key("profile.duration_ms")
	AttrSamples    = attribute.Key("profile.samples")
)

// Attributes returns the span attributes describing r.
func (r Record) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrName.String(r.Name),
		AttrDurationMs.Int64(r.Duration.Milliseconds()),
		AttrSamples.Int(r.SampleCount),
	}
}
