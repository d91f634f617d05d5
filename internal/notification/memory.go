package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memKey struct {
	user    string
	related string
	typ     Type
}

// toMemKey folds a nil related item onto "" the way the Postgres index COALESCEs it.
func toMemKey(k Key) memKey {
	return memKey{user: k.UserID, related: k.related(), typ: k.Type}
}

// MemoryStore is an in-process Store with the same uniqueness rule as the Postgres index.
// It backs tests and the single-binary dev mode.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	rows  map[string]*Notification
	byKey map[memKey]string
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		now:   clock,
		rows:  make(map[string]*Notification),
		byKey: make(map[memKey]string),
	}
}

func clone(n *Notification) *Notification {
	c := *n
	if n.RelatedItemID != nil {
		v := *n.RelatedItemID
		c.RelatedItemID = &v
	}
	if n.ReadAt != nil {
		v := *n.ReadAt
		c.ReadAt = &v
	}
	return &c
}

func (s *MemoryStore) FindByKey(_ context.Context, key Key) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[toMemKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.rows[id]), nil
}

func (s *MemoryStore) FindByID(_ context.Context, userID, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}
	return clone(n), nil
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := toMemKey(n.Key())
	if !n.Repeatable {
		if _, exists := s.byKey[k]; exists {
			return fmt.Errorf("create notification %s: %w", n.Key(), ErrDuplicateKey)
		}
	}

	n.ID = uuid.New().String()
	n.CreatedAt = s.now().UTC()
	n.UpdatedAt = n.CreatedAt
	n.Read = false
	n.ReadAt = nil

	s.rows[n.ID] = clone(n)
	if !n.Repeatable {
		s.byKey[k] = n.ID
	}
	return nil
}

func (s *MemoryStore) UpdateByID(_ context.Context, id, message string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	n.Message = message
	n.Read = false
	n.ReadAt = nil
	n.UpdatedAt = s.now().UTC()
	return clone(n), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID string, sel ReadSelector) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(sel.IDs))
	for _, id := range sel.IDs {
		wanted[id] = true
	}
	now := s.now().UTC()
	var count int64
	for _, n := range s.rows {
		if n.UserID != userID || n.Read {
			continue
		}
		if !sel.All && !wanted[n.ID] {
			continue
		}
		n.Read = true
		at := now
		n.ReadAt = &at
		n.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) DeleteOldRead(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(n *Notification) bool {
		return n.Read && n.CreatedAt.Before(olderThan)
	}), nil
}

func (s *MemoryStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(n *Notification) bool { return n.UserID == userID }), nil
}

// deleteWhere must be called with mu held.
func (s *MemoryStore) deleteWhere(match func(*Notification) bool) int64 {
	var count int64
	for id, n := range s.rows {
		if !match(n) {
			continue
		}
		delete(s.rows, id)
		if !n.Repeatable {
			delete(s.byKey, toMemKey(n.Key()))
		}
		count++
	}
	return count
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string, opts ListOptions) ([]*Notification, error) {
	opts = opts.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Notification, 0)
	for _, n := range s.rows {
		if n.UserID != userID || (opts.UnreadOnly && n.Read) {
			continue
		}
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Offset >= len(out) {
		return []*Notification{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.rows {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

// All returns every stored notification, oldest first.
func (s *MemoryStore) All() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MemorySubscriptionStore is the in-process SubscriptionStore.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	subs map[string]*Subscription
}

func NewMemorySubscriptionStore(clock func() time.Time) *MemorySubscriptionStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemorySubscriptionStore{now: clock, subs: make(map[string]*Subscription)}
}

func (s *MemorySubscriptionStore) Upsert(_ context.Context, sub *Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, existing := range s.subs {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.Keys = sub.Keys
			existing.UserAgent = sub.UserAgent
			existing.LastUsedAt = now
			*sub = *existing
			return false, nil
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.CreatedAt = now
	sub.LastUsedAt = now
	c := *sub
	s.subs[sub.ID] = &c
	return true, nil
}

func (s *MemorySubscriptionStore) ListForUser(_ context.Context, userID string) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			c := *sub
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, userID, endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.UserID == userID && sub.Endpoint == endpoint {
			delete(s.subs, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemorySubscriptionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *MemorySubscriptionStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		sub.LastUsedAt = at.UTC()
	}
	return nil
}

func (s *MemorySubscriptionStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, sub := range s.subs {
		if sub.UserID == userID {
			delete(s.subs, id)
			count++
		}
	}
	return count, nil
}

func (s *MemorySubscriptionStore) DeleteUnusedSince(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, sub := range s.subs {
		if sub.LastUsedAt.Before(cutoff) {
			delete(s.subs, id)
			count++
		}
	}
	return count, nil
}
