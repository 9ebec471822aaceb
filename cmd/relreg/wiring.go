package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/config"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"

	_ "github.com/lib/pq"     // Postgres driver
	_ "modernc.org/sqlite" // Lite mode driver
)

// closers runs cleanup functions in reverse registration order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config, w *os.File) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openDatabase connects to postgres, or to a sqlite file under the data dir
// in lite mode.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Lite() {
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "relreg.db")
		log.Printf("[relreg] lite mode: using sqlite at %s", dbPath)
		db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	log.Println("[relreg] connected to postgres")
	return db, nil
}

func openArtifacts(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	return artifacts.NewStore(ctx, artifacts.Config{
		Type:      artifacts.StoreType(cfg.Artifacts.Backend),
		DataDir:   cfg.DataDir,
		Bucket:    cfg.Artifacts.Bucket,
		Prefix:    cfg.Artifacts.Prefix,
		Region:    cfg.Artifacts.Region,
		Endpoint:  cfg.Artifacts.Endpoint,
		AccessKey: cfg.Artifacts.AccessKey,
		SecretKey: cfg.Artifacts.SecretKey,
		UseSSL:    cfg.Artifacts.UseSSL,
	})
}

func openIndex(ctx context.Context, db *sql.DB) (index.Store, error) {
	idx := index.NewSQLStore(db)
	if err := idx.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init metadata index: %w", err)
	}
	return idx, nil
}

func openSigner(cfg *config.Config) (crypto.Signer, error) {
	path := cfg.Ledger.KeyPath
	if path == "" {
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, "ledger.key")
	}
	signer, created, err := crypto.LoadOrCreateSigner(path, cfg.Ledger.NodeID)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("[relreg] ledger: generated node key at %s", path)
	} else {
		log.Printf("[relreg] ledger: loaded node key %s", signer.PublicKey())
	}
	return signer, nil
}

// openLedgerState opens the StateStore behind a local ledger contract.
func openLedgerState(ctx context.Context, cfg *config.Config, db *sql.DB, cl *closers) (ledger.StateStore, func(context.Context) error, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		log.Println("[relreg] ledger: in-memory state (not durable)")
		return ledger.NewMemoryState(), nil, nil
	case "sql":
		st := ledger.NewSQLState(db)
		if err := st.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to init ledger table: %w", err)
		}
		return st, db.PingContext, nil
	case "badger":
		dir := filepath.Join(cfg.DataDir, "ledger")
		st, err := ledger.OpenBadgerState(dir)
		if err != nil {
			return nil, nil, err
		}
		cl.add(st.Close)
		log.Printf("[relreg] ledger: badger state at %s", dir)
		return st, nil, nil
	case "redis":
		st := ledger.NewRedisState(cfg.Ledger.Addr, cfg.Ledger.Password, cfg.Ledger.RedisDB)
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("failed to reach redis ledger state: %w", err)
		}
		cl.add(st.Close)
		log.Printf("[relreg] ledger: redis state at %s", cfg.Ledger.Addr)
		return st, st.Ping, nil
	default:
		return nil, nil, fmt.Errorf("ledger backend %q has no local state", cfg.Ledger.Backend)
	}
}

// openLedger returns the ledger service the registrar talks to: a remote
// ledger node, or a contract over local state.
func openLedger(ctx context.Context, cfg *config.Config, db *sql.DB, cl *closers) (ledger.Service, func(context.Context) error, error) {
	if cfg.Ledger.Backend == "remote" {
		gw, err := ledger.NewGatewayClient(cfg.Ledger.Addr, cfg.Ledger.Token, cfg.Ledger.NodeID,
			&http.Client{Timeout: cfg.Timeouts.Ledger})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[relreg] ledger: remote node at %s", cfg.Ledger.Addr)
		return gw, nil, nil
	}

	state, ping, err := openLedgerState(ctx, cfg, db, cl)
	if err != nil {
		return nil, nil, err
	}
	signer, err := openSigner(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewContract(state, cfg.Ledger.NodeID, signer), ping, nil
}

// newNotifier delivers over SMTP when a host is configured and logs
// messages otherwise.
func newNotifier(cfg *config.Config, source notify.SubscriberSource, logger *slog.Logger) (*notify.Notifier, error) {
	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.SMTP.Host != "" {
		smtpSender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, err
		}
		sender = smtpSender
		log.Printf("[relreg] notifications: smtp via %s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	} else {
		log.Println("[relreg] notifications: SMTP_HOST unset, logging messages only")
	}
	return notify.New(sender, source, notify.Config{SendTimeout: cfg.Timeouts.Notify}, logger), nil
}
