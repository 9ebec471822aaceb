// Package registrar keeps the release ledger, the artifact store and the
// metadata index consistent for each (packageId, version).
//
// There is no transaction spanning the three stores. Consistency comes from
// operation ordering (artifact before ledger record) and compensating
// rollback; the ledger's per-key create-once rule decides who published first.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

const (
	opPublish            = "publish"
	opValidate           = "validate"
	opDownload           = "download"
	opDiscontinue        = "discontinue"
	opDiscontinuePackage = "discontinue_package"
	opGetRelease         = "get_release"
	opSweep              = "sweep_orphans"
	opComment            = "comment"
	opSubscribe          = "subscribe"

	defaultArtifactTimeout   = 30 * time.Second
	defaultIndexTimeout      = 5 * time.Second
	defaultDeleteConcurrency = 4
)

// Principal is the authenticated caller. Elevated callers bypass ownership checks.
type Principal struct {
	ID       string
	Elevated bool
}

// EventNotifier receives registry events. Implementations must not block.
type EventNotifier interface {
	Notify(ctx context.Context, ev notify.Event)
	NotifyRecipients(ctx context.Context, ev notify.Event, recipients []notify.Recipient)
}

type Config struct {
	Artifacts artifacts.Store
	Ledger    ledger.Service
	Index     index.Store
	// Notifier may be nil.
	Notifier EventNotifier
	Hasher   crypto.ContentHasher
	// Observability may be nil.
	Observability *observability.Provider
	Logger        *slog.Logger

	LedgerTimeout     time.Duration
	ArtifactTimeout   time.Duration
	IndexTimeout      time.Duration
	DeleteConcurrency int
}

type Registrar struct {
	artifacts artifacts.Store
	ledger    *ledger.Client
	index     index.Store
	notifier  EventNotifier
	hasher    crypto.ContentHasher
	obs       *observability.Provider
	logger    *slog.Logger

	artifactTimeout   time.Duration
	indexTimeout      time.Duration
	deleteConcurrency int
}

func New(cfg Config) (*Registrar, error) {
	if cfg.Artifacts == nil || cfg.Ledger == nil || cfg.Index == nil {
		return nil, errors.New("registrar requires artifact store, ledger and index")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Hasher == nil {
		cfg.Hasher = crypto.NewSHA256Hasher()
	}
	obs := cfg.Observability
	if obs == nil {
		obs = observability.Disabled()
	}
	if cfg.ArtifactTimeout <= 0 {
		cfg.ArtifactTimeout = defaultArtifactTimeout
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}
	if cfg.DeleteConcurrency <= 0 {
		cfg.DeleteConcurrency = defaultDeleteConcurrency
	}

	return &Registrar{
		artifacts:         cfg.Artifacts,
		ledger:            ledger.NewClient(cfg.Ledger, cfg.LedgerTimeout, logger),
		index:             cfg.Index,
		notifier:          cfg.Notifier,
		hasher:            cfg.Hasher,
		obs:               obs,
		logger:            logger.With("component", "registrar"),
		artifactTimeout:   cfg.ArtifactTimeout,
		indexTimeout:      cfg.IndexTimeout,
		deleteConcurrency: cfg.DeleteConcurrency,
	}, nil
}

func (r *Registrar) artifactCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.artifactTimeout)
}

func (r *Registrar) indexCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.indexTimeout)
}

func (r *Registrar) notify(ctx context.Context, ev notify.Event) {
	if r.notifier != nil {
		r.notifier.Notify(ctx, ev)
	}
}

// ledgerError translates a ledger failure into the registrar taxonomy.
func ledgerError(op, packageID, version string, err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return newError(CodeNotFound, op, packageID, version, err)
	case errors.Is(err, ledger.ErrAlreadyExists):
		return newError(CodeAlreadyExists, op, packageID, version, err)
	case errors.Is(err, ledger.ErrInvalidArgument):
		return newError(CodeInvalidInput, op, packageID, version, err)
	default:
		return newError(CodeTransient, op, packageID, version, err)
	}
}

func indexError(op, packageID string, err error) *Error {
	switch {
	case errors.Is(err, index.ErrPackageNotFound):
		return newError(CodeNotFound, op, packageID, "", err)
	case errors.Is(err, index.ErrInvalidInput):
		return newError(CodeInvalidInput, op, packageID, "", err)
	default:
		return newError(CodeTransient, op, packageID, "", err)
	}
}

// authorize checks that p may modify packageID. A package with no index record
// can only be modified by an elevated caller.
func (r *Registrar) authorize(ctx context.Context, op, packageID string, p Principal) (*index.Package, error) {
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()
	pkg, err := r.index.GetPackage(ictx, packageID)
	if err != nil && !errors.Is(err, index.ErrPackageNotFound) {
		return nil, indexError(op, packageID, err)
	}
	if p.Elevated {
		return pkg, nil
	}
	if pkg == nil || p.ID == "" || pkg.OwnerID != p.ID {
		return nil, newError(CodeForbidden, op, packageID, "",
			fmt.Errorf("caller %q does not own package", p.ID))
	}
	return pkg, nil
}
