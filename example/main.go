// Command example embeds the request profiler in a plain net/http server.
//
//	go run ./example
//	curl -X POST 'localhost:8080/debug/reqprof/enable?silent=false'
//	curl 'localhost:8080/slow?ms=300'
//	curl localhost:8080/debug/reqprof/profiles
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fllarpy/reqprof"
	"github.com/fllarpy/reqprof/config"
)

func main() {
	ctx := context.Background()
	logger := logrus.StandardLogger()

	cfg := config.Default()
	cfg.ServiceName = "example-service"
	cfg.Address = ":8080"

	probe, err := reqprof.NewProbe(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize request profiler")
	}
	defer func() {
		if err := probe.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Probe shutdown")
		}
	}()

	control, err := probe.ControlHandler()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build control API")
	}

	app := http.NewServeMux()
	app.HandleFunc("/", helloHandler)
	app.HandleFunc("/slow", slowHandler)
	app.HandleFunc("/error", erroringHandler)

	mux := http.NewServeMux()
	mux.Handle(cfg.ControlPrefix+"/", control)
	mux.Handle("/", probe.Wrap(app, "http-server"))

	logger.Infof("Starting server for service '%s' on %s", cfg.ServiceName, cfg.Address)
	logger.Infof("Control API: http://localhost%s%s/status", cfg.Address, cfg.ControlPrefix)
	if err := http.ListenAndServe(cfg.Address, mux); err != nil {
		logger.WithError(err).Fatal("Could not start server")
	}
}

func helloHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Hello, World!"))
}

func erroringHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "something went wrong", http.StatusInternalServerError)
}

// slowHandler spins for ?ms= milliseconds, 100 by default.
func slowHandler(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
	if err != nil || ms <= 0 {
		ms = 100
	}
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_, _ = w.Write([]byte("done " + strconv.Itoa(x)))
}
