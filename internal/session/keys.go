package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

// KeyManager ensures there is always an active signing key and caches it.
type KeyManager struct {
	repo repository.KeyRepository

	mu     sync.RWMutex
	cached *domain.SigningKey
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(repo repository.KeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// EnsureSigningKey returns the active key or creates a new one if missing.
func (m *KeyManager) EnsureSigningKey(ctx context.Context) (domain.SigningKey, error) {
	if key, ok := m.cachedKey(); ok {
		return key, nil
	}

	key, err := m.repo.GetActiveKey(ctx)
	if err == nil {
		m.store(key)
		return key, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.SigningKey{}, fmt.Errorf("ensure signing key: %w", err)
	}

	secret := make([]byte, 64)
	if _, randErr := rand.Read(secret); randErr != nil {
		return domain.SigningKey{}, fmt.Errorf("generate secret: %w", randErr)
	}

	created, err := m.repo.CreateKey(ctx, domain.SigningKey{
		KID:       uuid.NewString(),
		Secret:    secret,
		Algorithm: string(jose.HS256),
		Active:    true,
	})
	if errors.Is(err, domain.ErrDuplicateID) {
		// Another replica created the active key first.
		return m.ActiveKey(ctx)
	}
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}

	m.store(created)
	return created, nil
}

// ActiveKey retrieves an existing signing key without creating a new one.
func (m *KeyManager) ActiveKey(ctx context.Context) (domain.SigningKey, error) {
	if key, ok := m.cachedKey(); ok {
		return key, nil
	}
	key, err := m.repo.GetActiveKey(ctx)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("active key: %w", err)
	}
	m.store(key)
	return key, nil
}

func (m *KeyManager) cachedKey() (domain.SigningKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return domain.SigningKey{}, false
	}
	return *m.cached, true
}

func (m *KeyManager) store(key domain.SigningKey) {
	m.mu.Lock()
	m.cached = &key
	m.mu.Unlock()
}
