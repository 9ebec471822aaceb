package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds a single ledger call when none is configured.
const DefaultCallTimeout = 10 * time.Second

// Client is the registrar's view of the ledger. Each call gets its own
// timeout so a slow ledger never holds a caller indefinitely.
type Client struct {
	svc     Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient wraps svc. A non-positive timeout selects DefaultCallTimeout.
func NewClient(svc Service, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, timeout: timeout, logger: logger.With("component", "ledger-client")}
}

func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// EnsureAbsent fails with ErrAlreadyExists, returning the record, when the
// key is taken in any status. It is a read, not a reservation: Publish stays
// the arbiter between concurrent writers.
func (c *Client) EnsureAbsent(ctx context.Context, packageID, version string) (*Release, error) {
	existing, err := c.Get(ctx, packageID, version)
	switch {
	case err == nil:
		return existing, fmt.Errorf("%w: %s", ErrAlreadyExists, Key(packageID, version))
	case errors.Is(err, ErrNotFound):
		return nil, nil
	default:
		c.logger.WarnContext(ctx, "ledger read failed", "key", Key(packageID, version), "error", err)
		return nil, err
	}
}

// Publish records a new release.
func (c *Client) Publish(ctx context.Context, packageID, version, contentHash string) (*Release, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.Publish(callCtx, packageID, version, contentHash)
}

func (c *Client) Get(ctx context.Context, packageID, version string) (*Release, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.Get(callCtx, packageID, version)
}

func (c *Client) Validate(ctx context.Context, packageID, version, contentHash string) (bool, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.Validate(callCtx, packageID, version, contentHash)
}

func (c *Client) Discontinue(ctx context.Context, packageID, version string) (*Release, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.Discontinue(callCtx, packageID, version)
}

func (c *Client) List(ctx context.Context, packageID string) ([]*Release, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.List(callCtx, packageID)
}

func (c *Client) History(ctx context.Context, packageID, version string) ([]Entry, error) {
	callCtx, cancel := c.call(ctx)
	defer cancel()
	return c.svc.History(callCtx, packageID, version)
}
