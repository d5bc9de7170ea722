package http_middleware

import (
	"context"
	"net/http"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/domain/profiles"
	"github.com/fllarpy/reqprof/internal/adapters/reqhttp"
	"github.com/fllarpy/reqprof/profiling"
)

// ProfilingMiddleware creates a new HTTP middleware that profiles every request
// under its URL (path and query). It returns a function that takes an
// http.Handler and returns an http.Handler, suitable for use with frameworks
// like chi or gorilla/mux.
//
// Profiling never alters request handling: the session is started before the
// next handler runs and stopped once the response is finished, without waiting
// for the profile data. Failures are only logged. store may be nil.
func ProfilingMiddleware(mode *profiling.Mode, store domain.ProfileWriter, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.URL.RequestURI()
			recorder := profiling.NewRecorder(r.Context(), mode, name)
			if err := recorder.Start(); err != nil {
				logger.WithError(err).WithField("profile", name).Warn("Failed to start profiling")
			}

			fw := reqhttp.NewFinishWriter(w)
			fw.OnFinish(func() {
				finish(r.Context(), recorder, fw.StatusCode(), store, logger)
			})
			defer fw.Finish()

			if !recorder.Running() {
				next.ServeHTTP(fw, r)
				return
			}
			pprof.Do(r.Context(), pprof.Labels(profiling.LabelKey, name), func(ctx context.Context) {
				next.ServeHTTP(fw, r.WithContext(ctx))
			})
		})
	}
}

// finish stops the recorder and publishes the result. The request span gets
// the profile name and duration at once; the sample count is added only when
// the profiler delivers before the span ends. The record is stored once the
// profile data is ready, which for the engine is after the response.
func finish(ctx context.Context, recorder *profiling.Recorder, statusCode int, store domain.ProfileWriter, logger logrus.FieldLogger) {
	if !recorder.Running() {
		return
	}
	span := trace.SpanFromContext(ctx)

	err := recorder.StopAsync(func(record profiles.Record, err error) {
		if err != nil {
			logger.WithError(err).WithField("profile", record.Name).Warn("Failed to collect profile")
		}
		if span.IsRecording() {
			span.SetAttributes(profiles.AttrSamples.Int(record.SampleCount))
		}
		publish(record, statusCode, store, logger)
	})
	if err != nil {
		logger.WithError(err).WithField("profile", recorder.Name()).Warn("Failed to stop profiling")
		publish(recorder.Record(), statusCode, store, logger)
	}

	if span.IsRecording() {
		span.SetAttributes(
			profiles.AttrName.String(recorder.Name()),
			profiles.AttrDurationMs.Int64(recorder.Duration().Milliseconds()),
		)
	}
}

func publish(record profiles.Record, statusCode int, store domain.ProfileWriter, logger logrus.FieldLogger) {
	if store == nil {
		return
	}
	record.StatusCode = statusCode
	id := store.AddProfile(record)
	logger.WithFields(logrus.Fields{
		"profile": record.Name,
		"id":      id,
		"samples": record.SampleCount,
	}).Debug("Stored profile")
}
