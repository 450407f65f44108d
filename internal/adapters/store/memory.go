package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps subscriptions and scan records in memory
type MemoryStore struct {
	subs   map[string][]core.Subscription
	scans  map[string]core.ScanRecord
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		subs:   make(map[string][]core.Subscription),
		scans:  make(map[string]core.ScanRecord),
		logger: logger,
		now:    time.Now,
	}
}

// FindExisting returns the user's record with the given dedup key
func (s *MemoryStore) FindExisting(ctx context.Context, userID, dedupKey string) (*core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs[userID] {
		if sub.ServiceSlug == dedupKey {
			found := sub
			return &found, nil
		}
	}
	return nil, core.ErrNotFound
}

// ListByUser returns the user's records in creation order
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Subscription, len(s.subs[userID]))
	copy(out, s.subs[userID])
	return out, nil
}

// CreateSubscription stores a new record, assigning its ID and creation time
func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *core.Subscription) (*core.Subscription, error) {
	created := *sub
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.subs[created.UserID] = append(s.subs[created.UserID], created)
	s.mu.Unlock()

	s.logger.Debug("Stored subscription",
		zap.String("id", created.ID),
		zap.String("user_id", created.UserID),
		zap.String("service_slug", created.ServiceSlug))
	return &created, nil
}

// CreateScan stores a new scan record
func (s *MemoryStore) CreateScan(ctx context.Context, rec *core.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[rec.ID] = *rec
	return nil
}

// UpdateScan replaces a stored scan record
func (s *MemoryStore) UpdateScan(ctx context.Context, rec *core.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[rec.ID]; !ok {
		return core.ErrNotFound
	}
	s.scans[rec.ID] = *rec
	return nil
}

// LatestScan returns the most recently started run of a user
func (s *MemoryStore) LatestScan(ctx context.Context, userID string) (*core.ScanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []core.ScanRecord
	for _, rec := range s.scans {
		if rec.UserID == userID {
			runs = append(runs, rec)
		}
	}
	if len(runs) == 0 {
		return nil, core.ErrNotFound
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	latest := runs[0]
	return &latest, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
