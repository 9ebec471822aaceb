package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/config"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
	"github.com/Mindburn-Labs/release-registry/pkg/server"
)

// app is the assembled registry with everything that needs shutting down.
type app struct {
	handler  http.Handler
	notifier *notify.Notifier
	obs      *observability.Provider
	limiter  *api.RateLimiter
	closers  closers
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.closers.close()
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers.add(db.Close)

	store, err := openArtifacts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx, err := openIndex(ctx, db)
	if err != nil {
		return nil, err
	}
	svc, ledgerPing, err := openLedger(ctx, cfg, db, &a.closers)
	if err != nil {
		return nil, err
	}

	a.obs, err = observability.New(ctx, observability.Config{
		ServiceName:    "relreg",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		OTLPEndpoint:   cfg.Observability.Endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Observability.Enabled,
		Insecure:       cfg.Observability.Insecure,
		Classify: func(err error) string {
			return string(registrar.CodeOf(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init observability: %w", err)
	}

	a.notifier, err = newNotifier(cfg, idx, logger)
	if err != nil {
		return nil, err
	}

	reg, err := registrar.New(registrar.Config{
		Artifacts:       store,
		Ledger:          svc,
		Index:           idx,
		Notifier:        a.notifier,
		Observability:   a.obs,
		Logger:          logger,
		LedgerTimeout:   cfg.Timeouts.Ledger,
		ArtifactTimeout: cfg.Timeouts.Artifact,
		IndexTimeout:    cfg.Timeouts.Index,
	})
	if err != nil {
		return nil, err
	}

	var validator *auth.JWTValidator
	if cfg.Auth.JWTSecret != "" {
		if validator, err = auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer); err != nil {
			return nil, err
		}
	} else {
		log.Println("[relreg] auth: JWT_SECRET unset, all API calls will be rejected")
	}

	if cfg.RateLimit.RPS > 0 {
		a.limiter = api.NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	srv := server.New(server.Options{
		Registrar:      reg,
		Validator:      validator,
		CORSOrigins:    cfg.Auth.CORSOrigins,
		RateLimiter:    a.limiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ready: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			if ledgerPing != nil {
				return ledgerPing(ctx)
			}
			return nil
		},
		Logger: logger,
	})
	a.handler = srv.Handler()
	return a, nil
}

// shutdown drains notifications and releases resources.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	if err := a.closers.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.String("port", "", "Listen port (overrides PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 2
	}
	if *port != "" {
		cfg.Port = *port
	}
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: startup failed: %v\n", err)
		return 1
	}

	addr := net.JoinHostPort("", cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	log.Printf("[relreg] ready: http://localhost%s", addr)
	log.Println("[relreg] press ctrl+c to stop")

	code := 0
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: server failed: %v\n", err)
			code = 1
		}
	case <-ctx.Done():
		log.Println("[relreg] shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
		code = 1
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		code = 1
	}
	return code
}
