package registrar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"
)

var (
	alice = Principal{ID: "alice"}
	bob   = Principal{ID: "bob"}
	admin = Principal{ID: "ops", Elevated: true}
)

// faultyLedger injects failures in front of a real contract.
type faultyLedger struct {
	ledger.Service

	mu sync.Mutex
	// publishErr is returned without writing.
	publishErr error
	// landThenFail writes the record and then reports this error.
	landThenFail error
	// stallPublish blocks Publish until its context ends.
	stallPublish   bool
	discontinueErr map[string]error
	// getErr fails every read.
	getErr error
	// goDown fails Publish and every read after it.
	goDown error
	// beforePublish runs ahead of any injected Publish failure.
	beforePublish func()
}

func (f *faultyLedger) Get(ctx context.Context, packageID, version string) (*ledger.Release, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Service.Get(ctx, packageID, version)
}

func (f *faultyLedger) Publish(ctx context.Context, packageID, version, contentHash string) (*ledger.Release, error) {
	f.mu.Lock()
	publishErr, landThenFail, stall, hook := f.publishErr, f.landThenFail, f.stallPublish, f.beforePublish
	if f.goDown != nil {
		f.getErr = f.goDown
		publishErr = f.goDown
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	switch {
	case stall:
		<-ctx.Done()
		return nil, ctx.Err()
	case publishErr != nil:
		return nil, publishErr
	case landThenFail != nil:
		if _, err := f.Service.Publish(ctx, packageID, version, contentHash); err != nil {
			return nil, err
		}
		return nil, landThenFail
	}
	return f.Service.Publish(ctx, packageID, version, contentHash)
}

func (f *faultyLedger) Discontinue(ctx context.Context, packageID, version string) (*ledger.Release, error) {
	f.mu.Lock()
	err := f.discontinueErr[version]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Service.Discontinue(ctx, packageID, version)
}

func (f *faultyLedger) set(fn func(f *faultyLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// faultyStore injects delete failures in front of a real artifact store.
type faultyStore struct {
	artifacts.Store

	mu            sync.Mutex
	failDelete    map[string]bool
	failDeletePkg bool
}

func (s *faultyStore) DeleteVersion(ctx context.Context, packageID, version string) error {
	s.mu.Lock()
	fail := s.failDelete[version]
	s.mu.Unlock()
	if fail {
		return errors.New("disk unavailable")
	}
	return s.Store.DeleteVersion(ctx, packageID, version)
}

func (s *faultyStore) DeletePackage(ctx context.Context, packageID string) error {
	s.mu.Lock()
	fail := s.failDeletePkg
	s.mu.Unlock()
	if fail {
		return errors.New("disk unavailable")
	}
	return s.Store.DeletePackage(ctx, packageID)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	direct map[string][]notify.Recipient
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) NotifyRecipients(ctx context.Context, ev notify.Event, recipients []notify.Recipient) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	if n.direct == nil {
		n.direct = make(map[string][]notify.Recipient)
	}
	n.direct[ev.PackageID] = recipients
}

func (n *recordingNotifier) kinds() []notify.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	reg      *Registrar
	fs       billy.Filesystem
	store    *faultyStore
	contract *ledger.Contract
	ledger   *faultyLedger
	index    *index.MemoryStore
	notes    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	f := &fixture{
		fs:       fs,
		store:    &faultyStore{Store: artifacts.NewFileStoreFS(fs), failDelete: map[string]bool{}},
		contract: ledger.NewContract(ledger.NewMemoryState(), "ledger-test", nil),
		index:    index.NewMemoryStore(),
		notes:    &recordingNotifier{},
	}
	f.ledger = &faultyLedger{Service: f.contract, discontinueErr: map[string]error{}}

	reg, err := New(Config{
		Artifacts:     f.store,
		Ledger:        f.ledger,
		Index:         f.index,
		Notifier:      f.notes,
		LedgerTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *fixture) publish(t *testing.T, pkg, ver string, content []byte, who Principal) *PublishResult {
	t.Helper()
	res, err := f.reg.Publish(context.Background(), PublishRequest{PackageID: pkg, Version: ver, Content: content, Publisher: who})
	require.NoError(t, err)
	return res
}

func (f *fixture) stored(t *testing.T, pkg, ver string) ([]byte, bool) {
	t.Helper()
	data, err := f.store.Get(context.Background(), pkg, ver)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, false
	}
	require.NoError(t, err)
	return data, true
}
