package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/config"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
)

// runLedgerNode implements `relreg ledger-node`: it serves the ledger
// contract over HTTP so registry nodes with LEDGER_BACKEND=remote share one
// authoritative ledger.
func runLedgerNode(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger-node", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", ":9090", "Listen address")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 2
	}
	if cfg.Ledger.Backend == "remote" {
		_, _ = fmt.Fprintln(stderr, "Error: a ledger node needs local state; set LEDGER_BACKEND to memory, sql, badger or redis")
		return 2
	}
	if cfg.Ledger.Token == "" {
		log.Println("[relreg] ledger-node: LEDGER_TOKEN unset, gateway is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer func() { _ = cl.close() }()

	var db *sql.DB
	if cfg.Ledger.Backend == "sql" {
		if db, err = openDatabase(ctx, cfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cl.add(db.Close)
	}
	svc, _, err := openLedger(ctx, cfg, db, &cl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg, os.Stderr)
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           ledger.NewHandler(svc, cfg.Ledger.Token).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	log.Printf("[relreg] ledger node %s listening on %s (%s state)", cfg.Ledger.NodeID, *addr, cfg.Ledger.Backend)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ledger node failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		log.Println("[relreg] ledger node shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ledger node shutdown failed", "error", err)
		return 1
	}
	return 0
}
