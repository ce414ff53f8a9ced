package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// MemoryRepository is an in-memory secrets.Repository for local development
// and tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	nextID     int64
	users      map[string]*secrets.User
	userOrder  []string
	apps       []secrets.App
	appRecords map[uuid.UUID][]*secrets.StoreRecord
	userSecret []*secrets.StoreRecord
	topics     map[string][]int64 // topic -> secret ids
}

// NewMemoryRepository creates an empty in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[string]*secrets.User),
		appRecords: make(map[uuid.UUID][]*secrets.StoreRecord),
		topics:     make(map[string][]int64),
	}
}

func (m *MemoryRepository) UpsertUser(_ context.Context, nillionUserID string) (*secrets.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.upsertUser(nillionUserID)

	return &secrets.User{ID: u.ID, NillionUserID: u.NillionUserID}, nil
}

func (m *MemoryRepository) ListUsers(_ context.Context) ([]secrets.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]secrets.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		users = append(users, *m.users[id])
	}

	return users, nil
}

func (m *MemoryRepository) CreateApp(_ context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appID := uuid.New()
	m.apps = append(m.apps, secrets.App{ID: m.id(), AppID: appID})
	m.appRecords[appID] = nil

	return appID, nil
}

func (m *MemoryRepository) ListApps(_ context.Context) ([]secrets.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.apps), nil
}

func (m *MemoryRepository) AppExists(_ context.Context, appID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.appRecords[appID]

	return ok, nil
}

func (m *MemoryRepository) SaveAppRecord(_ context.Context, appID uuid.UUID, rec *secrets.StoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.appRecords[appID]
	if !ok {
		return secrets.ErrAppNotFound
	}

	m.upsertUser(rec.NillionUserID)

	rec.ID = m.id()
	stored := *rec
	m.appRecords[appID] = append(records, &stored)

	return nil
}

func (m *MemoryRepository) FindAppRecord(
	_ context.Context, appID uuid.UUID, storeID string,
) (*secrets.StoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.findAppRecord(appID, storeID)
	if err != nil {
		return nil, err
	}

	found := *rec

	return &found, nil
}

func (m *MemoryRepository) UpdateAppRecord(
	_ context.Context, appID uuid.UUID, storeID, secretName string, ttlExpiresAt time.Time,
) (*secrets.StoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.findAppRecord(appID, storeID)
	if err != nil {
		return nil, err
	}

	rec.SecretName = secretName
	rec.TTLExpiresAt = ttlExpiresAt
	updated := *rec

	return &updated, nil
}

func (m *MemoryRepository) ListAppRecords(
	_ context.Context, appID uuid.UUID, page secrets.Page,
) ([]secrets.StoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.appRecords[appID]
	if !ok {
		return nil, secrets.ErrAppNotFound
	}

	return paginate(records, page), nil
}

func (m *MemoryRepository) SaveUserSecret(_ context.Context, rec *secrets.StoreRecord, topics []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertUser(rec.NillionUserID)

	rec.ID = m.id()
	stored := *rec
	m.userSecret = append(m.userSecret, &stored)

	for _, topic := range uniqueTopics(topics) {
		m.topics[topic] = append(m.topics[topic], rec.ID)
	}

	return nil
}

func (m *MemoryRepository) ListTopicRecords(
	_ context.Context, topic string, page secrets.Page,
) ([]secrets.StoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.topics[topic]
	if !ok {
		return nil, secrets.ErrTopicNotFound
	}

	var records []*secrets.StoreRecord

	for _, rec := range m.userSecret {
		if slices.Contains(ids, rec.ID) {
			records = append(records, rec)
		}
	}

	return paginate(records, page), nil
}

// SecretCount is the number of topic-tagged user secrets.
func (m *MemoryRepository) SecretCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.userSecret)), nil
}

func (m *MemoryRepository) upsertUser(nillionUserID string) *secrets.User {
	if u, ok := m.users[nillionUserID]; ok {
		return u
	}

	u := &secrets.User{ID: m.id(), NillionUserID: nillionUserID}
	m.users[nillionUserID] = u
	m.userOrder = append(m.userOrder, nillionUserID)

	return u
}

func (m *MemoryRepository) findAppRecord(appID uuid.UUID, storeID string) (*secrets.StoreRecord, error) {
	records, ok := m.appRecords[appID]
	if !ok {
		return nil, secrets.ErrAppNotFound
	}

	for _, rec := range records {
		if rec.StoreID == storeID {
			return rec, nil
		}
	}

	return nil, secrets.ErrStoreIDNotFound
}

func (m *MemoryRepository) id() int64 {
	m.nextID++

	return m.nextID
}

// paginate orders records newest first, matching the SQL listings.
func paginate(records []*secrets.StoreRecord, page secrets.Page) []secrets.StoreRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b *secrets.StoreRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return int(b.ID - a.ID)
	})

	start := min(page.Offset(), len(sorted))
	end := min(start+page.Size, len(sorted))

	out := make([]secrets.StoreRecord, 0, end-start)
	for _, rec := range sorted[start:end] {
		out = append(out, *rec)
	}

	return out
}

func uniqueTopics(topics []string) []string {
	out := make([]string, 0, len(topics))

	for _, t := range topics {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}

	return out
}

// Compile-time check.
var _ secrets.Repository = (*MemoryRepository)(nil)
