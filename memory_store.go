package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an AccountStore kept in process memory. It applies the same
// version check as the SQL store and hands out copies, so callers never share
// an Account value.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	byEmail  map[string]uuid.UUID
}

var _ AccountStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[uuid.UUID]*Account{},
		byEmail:  map[string]uuid.UUID{},
	}
}

func (m *MemoryStore) LoadAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
	return account.Clone(), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{"email": NormalizeEmail(email)})
	}
	return m.accounts[id].Clone(), nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, account *Account) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(account.Email)
	if _, taken := m.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}

	stored := account.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Email = email
	if stored.Version == 0 {
		stored.Version = 1
	}

	m.accounts[stored.ID] = stored
	m.byEmail[email] = stored.ID
	return stored.Clone(), nil
}

func (m *MemoryStore) SaveAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": account.ID.String()})
	}

	if current.Version != account.Version {
		return ErrStorageConflict.Clone().WithMetadata(map[string]any{
			"id":      account.ID.String(),
			"version": account.Version,
		})
	}

	account.Version++
	stored := account.Clone()
	stored.CreatedAt = cloneTime(current.CreatedAt)

	if current.Email != stored.Email {
		delete(m.byEmail, current.Email)
		m.byEmail[stored.Email] = stored.ID
	}
	m.accounts[stored.ID] = stored
	return nil
}
