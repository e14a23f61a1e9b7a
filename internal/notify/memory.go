package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/pkg/errors"
)

// MemoryRepository is an in-memory Repository used in tests and when
// running without a database.
type MemoryRepository struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*Notification
	preferences   map[string]*Preference
}

// NewMemoryRepository creates an empty in-memory notification repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		notifications: make(map[uuid.UUID]*Notification),
		preferences:   make(map[string]*Preference),
	}
}

func (r *MemoryRepository) Insert(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *n
	r.notifications[n.ID] = &copied
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, errors.NewNotFoundError("notification")
	}
	copied := *n
	return &copied, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, readAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return errors.NewNotFoundError("notification")
	}
	n.Status = status
	if readAt != nil {
		n.ReadAt = readAt
	}
	return nil
}

func (r *MemoryRepository) ListByRecipient(ctx context.Context, recipientID string, statuses []Status, limit int) ([]Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Notification
	for _, n := range r.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if n.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *n)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, n := range r.notifications {
		if deleted >= batchSize {
			break
		}
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			delete(r.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) PreferencesByRoles(ctx context.Context, roles []string) ([]Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Preference
	for _, p := range r.preferences {
		for _, role := range roles {
			if p.Role == role {
				out = append(out, *p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *MemoryRepository) UpsertPreference(ctx context.Context, p *Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *p
	r.preferences[p.UserID] = &copied
	return nil
}
