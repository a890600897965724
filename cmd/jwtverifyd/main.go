// Command jwtverifyd hosts the verifier library behind a small HTTP
// authentication-checking API. It is a demonstration of the ambient stack,
// not part of the verification core: every invariant the core promises is
// already satisfied before this binary ever sees a token.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/deep-rent/jwtverify/internal/app"
	"github.com/deep-rent/jwtverify/internal/config"
	"github.com/deep-rent/jwtverify/internal/env"
	"github.com/deep-rent/jwtverify/internal/flag"
	"github.com/deep-rent/jwtverify/internal/log"
	"github.com/deep-rent/jwtverify/internal/middleware"
	"github.com/deep-rent/jwtverify/internal/middleware/cors"
	"github.com/deep-rent/jwtverify/internal/middleware/gzip"
	"github.com/deep-rent/jwtverify/internal/router"
)

// settings holds jwtverifyd's own configuration: how to listen and log, and
// where to find the trust-store file. Flags take precedence over the
// JWTVERIFYD_-prefixed environment variables env.Unmarshal reads into the
// same struct.
type settings struct {
	Addr       string `env:"ADDR"`
	TrustStore string `env:"TRUST_STORE"`
	LogLevel   string `env:"LOG_LEVEL"`
	LogFormat  string `env:"LOG_FORMAT"`
}

func main() {
	cfg := settings{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
	if err := env.Unmarshal(&cfg, env.WithPrefix("JWTVERIFYD_")); err != nil {
		fmt.Fprintln(os.Stderr, "jwtverifyd:", err)
		os.Exit(1)
	}

	flag.Add(&cfg.Addr, "a", "addr", "Address to listen on")
	flag.Add(&cfg.TrustStore, "t", "trust-store", "Path to the trust-store file (.json or .yaml)")
	flag.Add(&cfg.LogLevel, "l", "log-level", "Log level (debug, info, warn, error)")
	flag.Add(&cfg.LogFormat, "f", "log-format", "Log format (text, json)")
	flag.Parse()

	logger := log.New(log.WithLevel(cfg.LogLevel), log.WithFormat(cfg.LogFormat))

	if cfg.TrustStore == "" {
		logger.Error("no trust store configured; pass --trust-store or JWTVERIFYD_TRUST_STORE")
		os.Exit(1)
	}

	var store TrustStore
	if err := config.Load(cfg.TrustStore, &store); err != nil {
		logger.Error("failed to load trust store", "path", cfg.TrustStore, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	vs, err := build(ctx, store, logger)
	cancel()
	if err != nil {
		logger.Error("failed to build verifiers", "error", err)
		os.Exit(1)
	}

	r := router.New(
		router.WithLogger(logger),
		router.WithMaxBodySize(64*1024),
		router.WithMiddleware(
			middleware.RequestID(),
			middleware.Recover(logger),
			middleware.Log(logger),
			cors.New(cors.WithAllowedMethods(http.MethodPost, http.MethodGet)),
			gzip.New(),
		),
	)
	r.HandleFunc("GET /healthz", healthHandler)
	r.HandleFunc("POST /v1/verify/generic", verifyHandler(vs.generic))
	r.HandleFunc("POST /v1/verify/cognito", verifyHandler(vs.cognito))
	r.HandleFunc("POST /v1/verify/alb", verifyHandler(vs.alb))

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	err = app.Run(func(ctx context.Context) error {
		logger.Info("jwtverifyd listening", "addr", cfg.Addr)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}, app.WithLogger(logger))

	if err != nil {
		logger.Error("jwtverifyd exited with error", "error", err)
		os.Exit(1)
	}
}
