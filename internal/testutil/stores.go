// stores.go
//
// Shared mock implementations of the relational store and the consumed-state ledger.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/yellowcatz/badgegate/internal/store"
)

// MockStore implements the user, badge and award store for tests.

// Always stateful...Users, Badges and Awards behave like a real store,
// including ErrNotFound, ErrDuplicate and insert-if-absent semantics.
// Use *Err fields to inject errors for specific operations.
// Use NewMockStore to seed users; or construct directly and set *Err fields for error-path tests.
type MockStore struct {
	// Error injection...zero value means no error
	GetUserErr     error
	CreateUserErr  error
	UpdateUserErr  error
	IsBannedErr    error
	SeedBadgesErr  error
	ListBadgesErr  error
	InsertAwardErr error
	ListAwardsErr  error
	HealthErr      error

	// RaceUser, when set, is inserted just before the next CreateUser, which
	// then fails with ErrDuplicate as if a concurrent login won the insert.
	RaceUser *store.User

	Users  map[string]*store.User // keyed by external user id
	Badges []store.Badge
	Awards map[uuid.UUID]map[string]time.Time

	// Mutations counts successful writes (create, update, award insert).
	Mutations int

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users, indexed by external id.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:  make(map[string]*store.User),
		Awards: make(map[uuid.UUID]map[string]time.Time),
	}
	for _, u := range users {
		ms.Users[u.ExternalUserID] = u
	}
	return ms
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

func (m *MockStore) GetUserByExternalID(_ context.Context, externalID string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Users == nil {
		m.Users = make(map[string]*store.User)
	}
	if m.RaceUser != nil {
		m.Users[m.RaceUser.ExternalUserID] = m.RaceUser
		m.RaceUser = nil
	}
	if _, ok := m.Users[u.ExternalUserID]; ok {
		return store.ErrDuplicate
	}
	cp := *u
	m.Users[u.ExternalUserID] = &cp
	m.Mutations++
	return nil
}

func (m *MockStore) UpdateUserProfile(_ context.Context, externalID, displayName string, avatarURL *string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[externalID]
	if !ok {
		return store.ErrNotFound
	}
	u.DisplayName = displayName
	u.AvatarURL = avatarURL
	m.Mutations++
	return nil
}

func (m *MockStore) IsBanned(_ context.Context, userID uuid.UUID) (bool, error) {
	if m.IsBannedErr != nil {
		return false, m.IsBannedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.ID == userID {
			return u.IsBanned, nil
		}
	}
	return false, store.ErrNotFound
}

func (m *MockStore) SeedBadges(_ context.Context, badges []store.Badge) error {
	if m.SeedBadgesErr != nil {
		return m.SeedBadgesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Badges = append([]store.Badge(nil), badges...)
	return nil
}

func (m *MockStore) ListBadges(_ context.Context) ([]store.Badge, error) {
	if m.ListBadgesErr != nil {
		return nil, m.ListBadgesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Badge(nil), m.Badges...), nil
}

func (m *MockStore) InsertAwardIfAbsent(_ context.Context, userID uuid.UUID, badgeID string, at time.Time) (bool, error) {
	if m.InsertAwardErr != nil {
		return false, m.InsertAwardErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Awards == nil {
		m.Awards = make(map[uuid.UUID]map[string]time.Time)
	}
	held := m.Awards[userID]
	if held == nil {
		held = make(map[string]time.Time)
		m.Awards[userID] = held
	}
	if _, ok := held[badgeID]; ok {
		return false, nil
	}
	held[badgeID] = at
	m.Mutations++
	return true, nil
}

func (m *MockStore) ListAwardsForUser(_ context.Context, userID uuid.UUID) ([]store.Award, error) {
	if m.ListAwardsErr != nil {
		return nil, m.ListAwardsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var awards []store.Award
	for id, at := range m.Awards[userID] {
		awards = append(awards, store.Award{UserID: userID, BadgeID: id, UnlockedAt: at})
	}
	sort.Slice(awards, func(i, j int) bool { return awards[i].BadgeID < awards[j].BadgeID })
	return awards, nil
}

// HasAward reports whether userID holds badgeID.
func (m *MockStore) HasAward(userID uuid.UUID, badgeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Awards[userID][badgeID]
	return ok
}

// MutationCount returns Mutations under the lock.
func (m *MockStore) MutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Mutations
}

// MockLedger implements the consumed-state ledger for tests.
// Always stateful...Used is a set, like a real ledger (TTL is ignored).
// Use *Err fields to inject errors for specific operations.
type MockLedger struct {
	// Error injection...zero value means no error
	ConsumeErr error
	HealthErr  error

	Used map[string]bool

	mu sync.Mutex
}

// NewMockLedger returns an empty MockLedger ready for use.
func NewMockLedger() *MockLedger {
	return &MockLedger{Used: make(map[string]bool)}
}

func (m *MockLedger) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

func (m *MockLedger) Consume(_ context.Context, state string, _ time.Duration) (bool, error) {
	if m.ConsumeErr != nil {
		return false, m.ConsumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Used == nil {
		m.Used = make(map[string]bool)
	}
	if m.Used[state] {
		return false, nil
	}
	m.Used[state] = true
	return true, nil
}
