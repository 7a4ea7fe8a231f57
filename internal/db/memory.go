package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"LeadPulse/internal/models"
)

// MemoryStore keeps queue items, codes and subscribers in process memory.
// It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu          sync.Mutex
	items       map[string]models.QueueItem
	order       []string
	codes       []models.VerificationCode
	subscribers []models.Subscriber
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]models.QueueItem)}
}

func (m *MemoryStore) AddSubscribers(subs ...models.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, subs...)
}

func (m *MemoryStore) Subscribers(_ context.Context, category string) ([]models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Subscriber
	for _, s := range m.subscribers {
		if s.Category == category {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertQueueItem(_ context.Context, item *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[item.ID] = cloneItem(*item)
	m.order = append(m.order, item.ID)
	return nil
}

func (m *MemoryStore) GetQueueItem(_ context.Context, id string) (*models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneItem(item)
	return &c, nil
}

func (m *MemoryStore) UpdateQueueDelivery(_ context.Context, item *models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = item.Status
	stored.Attempts = item.Attempts
	stored.LastAttemptAt = cloneTime(item.LastAttemptAt)
	stored.NextRetryAt = cloneTime(item.NextRetryAt)
	stored.Error = item.Error
	stored.MessageID = item.MessageID
	stored.UpdatedAt = item.UpdatedAt
	m.items[item.ID] = stored
	return nil
}

func (m *MemoryStore) DueQueueItems(_ context.Context, now time.Time) ([]models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.QueueItem
	for _, id := range m.order {
		item := m.items[id]
		if item.Due(now) {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListQueueItems(_ context.Context, status models.EmailStatus, limit int) ([]models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []models.QueueItem
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		item := m.items[m.order[i]]
		if status == "" || item.Status == status {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteQueueItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) InsertCode(_ context.Context, c *models.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes = append(m.codes, *c)
	return nil
}

func (m *MemoryStore) LatestCode(_ context.Context, email string, formType models.FormType) (*models.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []models.VerificationCode
	for _, c := range m.codes {
		if c.Email == email && c.FormType == formType {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	c := matches[0]
	return &c, nil
}

func (m *MemoryStore) UpdateCodeState(_ context.Context, c *models.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.codes {
		if m.codes[i].ID == c.ID {
			m.codes[i].Attempts = c.Attempts
			m.codes[i].Verified = c.Verified
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) DeleteCode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes = filterCodes(m.codes, func(c models.VerificationCode) bool { return c.ID != id })
	return nil
}

func (m *MemoryStore) DeleteCodes(_ context.Context, email string, formType models.FormType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes = filterCodes(m.codes, func(c models.VerificationCode) bool {
		return c.Email != email || c.FormType != formType
	})
	return nil
}

func (m *MemoryStore) DeleteExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.codes)
	m.codes = filterCodes(m.codes, func(c models.VerificationCode) bool { return !c.ExpiresAt.Before(now) })
	return int64(before - len(m.codes)), nil
}

// Codes returns a snapshot of all stored codes.
func (m *MemoryStore) Codes() []models.VerificationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.VerificationCode(nil), m.codes...)
}

func filterCodes(codes []models.VerificationCode, keep func(models.VerificationCode) bool) []models.VerificationCode {
	out := codes[:0]
	for _, c := range codes {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func cloneItem(item models.QueueItem) models.QueueItem {
	item.LastAttemptAt = cloneTime(item.LastAttemptAt)
	item.NextRetryAt = cloneTime(item.NextRetryAt)
	return item
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
