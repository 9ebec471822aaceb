package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-node demos.
type MemoryStore struct {
	mu        sync.RWMutex
	packages  map[string]*Package
	comments  map[string][]Comment
	subs      map[string]map[string]Subscription
	downloads map[string]int64
	clock     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:  make(map[string]*Package),
		comments:  make(map[string][]Comment),
		subs:      make(map[string]map[string]Subscription),
		downloads: make(map[string]int64),
		clock:     time.Now,
	}
}

func downloadKey(packageID, version string) string { return packageID + ":" + version }

func (m *MemoryStore) GetPackage(ctx context.Context, packageID string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[packageID]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) EnsurePackage(ctx context.Context, pkg Package) (*Package, bool, error) {
	if err := validatePackage(pkg); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.packages[pkg.PackageID]; ok {
		cp := *p
		return &cp, false, nil
	}
	pkg.CreatedAt = m.clock().UTC()
	m.packages[pkg.PackageID] = &pkg
	cp := pkg
	return &cp, true, nil
}

func (m *MemoryStore) DeletePackage(ctx context.Context, packageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[packageID]; !ok {
		return ErrPackageNotFound
	}
	delete(m.packages, packageID)
	delete(m.comments, packageID)
	delete(m.subs, packageID)
	prefix := packageID + ":"
	for k := range m.downloads {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(m.downloads, k)
		}
	}
	return nil
}

func (m *MemoryStore) AddComment(ctx context.Context, c Comment) (*Comment, error) {
	if c.PackageID == "" || c.AuthorID == "" || c.Body == "" {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[c.PackageID]; !ok {
		return nil, ErrPackageNotFound
	}
	c.ID = uuid.NewString()
	c.CreatedAt = m.clock().UTC()
	m.comments[c.PackageID] = append(m.comments[c.PackageID], c)
	return &c, nil
}

func (m *MemoryStore) ListComments(ctx context.Context, packageID string) ([]Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.packages[packageID]; !ok {
		return nil, ErrPackageNotFound
	}
	return append([]Comment{}, m.comments[packageID]...), nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, s Subscription) error {
	if s.PackageID == "" || s.SubscriberID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[s.PackageID]; !ok {
		return ErrPackageNotFound
	}
	set, ok := m.subs[s.PackageID]
	if !ok {
		set = make(map[string]Subscription)
		m.subs[s.PackageID] = set
	}
	if prev, ok := set[s.SubscriberID]; ok {
		s.CreatedAt = prev.CreatedAt
	} else {
		s.CreatedAt = m.clock().UTC()
	}
	set[s.SubscriberID] = s
	return nil
}

func (m *MemoryStore) Unsubscribe(ctx context.Context, packageID, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[packageID], subscriberID)
	return nil
}

func (m *MemoryStore) ListSubscribers(ctx context.Context, packageID string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs[packageID]))
	for _, s := range m.subs[packageID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

func (m *MemoryStore) RecordDownload(ctx context.Context, d DownloadRecord) error {
	if d.PackageID == "" || d.Version == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[downloadKey(d.PackageID, d.Version)]++
	return nil
}

func (m *MemoryStore) CountDownloads(ctx context.Context, packageID, version string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloads[downloadKey(packageID, version)], nil
}
