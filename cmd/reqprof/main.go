package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fllarpy/reqprof"
	"github.com/fllarpy/reqprof/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 10 * time.Second

var (
	Version   = reqprof.Version
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.InitViper(v)

	rootCmd := &cobra.Command{
		Use:          "reqprof",
		Short:        "Request scoped CPU profiling for HTTP services",
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo server with request profiling and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
	if err := config.AddFlags(serveCmd.Flags(), v); err != nil {
		panic(err)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s - Commit: %s - Date: %s\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

func setupLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.StandardLogger()
	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	probe, err := reqprof.NewProbe(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := probe.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Probe shutdown")
		}
	}()

	control, err := probe.ControlHandler()
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	if cfg.ControlPrefix != "" {
		router.PathPrefix(cfg.ControlPrefix).Handler(control)
	} else {
		router.NotFoundHandler = control
	}
	router.Handle("/hello", probe.Wrap(http.HandlerFunc(hello), "hello")).Methods("GET")
	router.Handle("/work", probe.Wrap(http.HandlerFunc(work), "work")).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", cfg.Address).Info("Listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "hello"})
}

// work burns CPU so the request has samples to show.
func work(w http.ResponseWriter, r *http.Request) {
	deadline := time.Now().Add(200 * time.Millisecond)
	var n uint64
	for time.Now().Before(deadline) {
		for i := 0; i < 1000; i++ {
			n += uint64(i) * uint64(i)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]uint64{"result": n})
}
