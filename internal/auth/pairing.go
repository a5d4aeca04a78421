package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// PairingStore tracks pending pairing codes. A code is printed to the bridge
// log and exchanged once for a token pair.
type PairingStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewPairingStore creates a store whose codes expire after ttl.
func NewPairingStore(ttl time.Duration) *PairingStore {
	return &PairingStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// StartCleanup removes expired codes periodically until the context is canceled.
func (store *PairingStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				store.CleanupExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CleanupExpired removes expired pairing codes.
func (store *PairingStore) CleanupExpired() {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := store.now()
	for code, createdAt := range store.entries {
		if now.Sub(createdAt) > store.ttl {
			delete(store.entries, code)
		}
	}
}

// Create generates and stores a new six digit code.
func (store *PairingStore) Create() (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for attempts := 0; attempts < 10; attempts++ {
		code, err := randomPairingCode()
		if err != nil {
			return "", err
		}
		if _, exists := store.entries[code]; exists {
			continue
		}
		store.entries[code] = store.now()
		return code, nil
	}

	return "", fmt.Errorf("unable to generate unique pairing code")
}

// Redeem consumes code. It reports whether the code existed and whether it
// was still valid.
func (store *PairingStore) Redeem(code string) (found, valid bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	createdAt, ok := store.entries[code]
	if !ok {
		return false, false
	}
	delete(store.entries, code)
	return true, store.now().Sub(createdAt) <= store.ttl
}

func randomPairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", 100000+n.Int64()), nil
}
