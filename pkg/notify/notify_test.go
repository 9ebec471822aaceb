package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/release-registry/pkg/index"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]bool
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	if r.fail[msg.To.ID] {
		return errors.New("mailbox full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.To.ID)
	}
	return out
}

func seededIndex(t *testing.T, subscribers ...string) *index.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := index.NewMemoryStore()
	_, _, err := store.EnsurePackage(ctx, index.Package{PackageID: "com.acme.lib", OwnerID: "alice"})
	require.NoError(t, err)
	for _, s := range subscribers {
		require.NoError(t, store.Subscribe(ctx, index.Subscription{PackageID: "com.acme.lib", SubscriberID: s, Email: s + "@example.com"}))
	}
	return store
}

func TestNotify_FansOutToSubscribers(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, seededIndex(t, "bob", "carol", "dave"), Config{}, nil)

	n.Notify(context.Background(), Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0", ContentHash: "abc"})
	n.Wait()

	assert.ElementsMatch(t, []string{"bob", "carol", "dave"}, sender.recipients())
	assert.Equal(t, Stats{Delivered: 3}, n.Stats())
}

func TestNotify_FailureIsolatedPerSubscriber(t *testing.T) {
	sender := &recordingSender{fail: map[string]bool{"carol": true}}
	n := New(sender, seededIndex(t, "bob", "carol", "dave"), Config{Concurrency: 1}, nil)

	n.Notify(context.Background(), Event{Kind: EventDiscontinued, PackageID: "com.acme.lib", Version: "1.0.0"})
	n.Wait()

	assert.ElementsMatch(t, []string{"bob", "dave"}, sender.recipients())
	assert.Equal(t, Stats{Delivered: 2, Failed: 1}, n.Stats())
}

func TestNotify_SurvivesCancelledCaller(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, seededIndex(t, "bob"), Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0"})
	cancel()
	n.Wait()

	assert.Equal(t, []string{"bob"}, sender.recipients())
}

func TestNotify_SendTimeout(t *testing.T) {
	slow := SenderFunc(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	n := New(slow, seededIndex(t, "bob"), Config{SendTimeout: 10 * time.Millisecond}, nil)

	n.Notify(context.Background(), Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0"})
	n.Wait()

	assert.Equal(t, int64(1), n.Stats().Failed)
}

func TestNotifyRecipients_UsesSnapshot(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, nil, Config{}, nil)

	n.NotifyRecipients(context.Background(),
		Event{Kind: EventPackageDiscontinued, PackageID: "com.acme.lib"},
		[]Recipient{{ID: "bob", Email: "bob@example.com"}})
	n.Wait()

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Subject, "com.acme.lib discontinued")
}

func TestClose_RejectsNewEvents(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, seededIndex(t, "bob"), Config{}, nil)

	require.NoError(t, n.Close(context.Background()))
	n.Notify(context.Background(), Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0"})
	n.Wait()

	assert.Empty(t, sender.recipients())
}

type hungSource struct{}

func (hungSource) ListSubscribers(ctx context.Context, packageID string) ([]index.Subscription, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNotify_SubscriberLookupHasDeadline(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, hungSource{}, Config{SendTimeout: 10 * time.Millisecond}, nil)

	n.Notify(context.Background(), Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx), "a hung index must not pin the workers")
	assert.Empty(t, sender.recipients())
}

func TestNotify_FullQueueDropsEvents(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	blocking := SenderFunc(func(ctx context.Context, msg Message) error {
		started <- struct{}{}
		<-release
		return nil
	})
	n := New(blocking, nil, Config{Workers: 1, QueueSize: 1}, nil)
	bob := []Recipient{{ID: "bob", Email: "bob@example.com"}}
	ev := Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0"}

	n.NotifyRecipients(context.Background(), ev, bob)
	<-started
	n.NotifyRecipients(context.Background(), ev, bob)
	n.NotifyRecipients(context.Background(), ev, bob)
	assert.Equal(t, int64(1), n.Stats().Dropped)

	close(release)
	n.Wait()
	assert.Equal(t, Stats{Delivered: 2, Dropped: 1}, n.Stats())
}

func TestRender(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := Render(Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.2.3", ContentHash: "deadbeef", At: at},
		Recipient{ID: "bob"})
	assert.Equal(t, "[relreg] com.acme.lib 1.2.3 published", msg.Subject)
	assert.Contains(t, msg.Body, "deadbeef")
	assert.Contains(t, msg.Body, "2026-05-01T12:00:00Z")
}
