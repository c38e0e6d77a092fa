package capability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"sourcekit/internal/domain"
	"sourcekit/internal/security"
)

// StateStore is one extension's view of one namespace. Store and Retrieve
// never fail: if the durable layer errors, values live in a per-session map
// for the rest of the session.
type StateStore struct {
	extensionID string
	namespace   string
	kv          domain.KVStore
	keychain    *security.Keychain // only set for the keychain namespace
	memory      *memoryState
	logger      *slog.Logger
}

// memoryState is the in-memory fallback shared by a session's namespaces.
type memoryState struct {
	mu     sync.Mutex
	values map[string]string
	warned bool
}

func newMemoryState() *memoryState {
	return &memoryState{values: make(map[string]string)}
}

func (m *memoryState) get(slot string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[slot]
	return v, ok
}

func (m *memoryState) set(slot, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[slot] = value
}

func (m *memoryState) drop(slot string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, slot)
}

// degrade reports whether this is the first fallback of the session.
func (m *memoryState) degrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := !m.warned
	m.warned = true
	return first
}

func (s *StateStore) slot(key string) string {
	return s.namespace + "/" + key
}

// additional binds sealed keychain values to their extension and key.
func (s *StateStore) additional(key string) string {
	return s.extensionID + "/" + key
}

// Namespace returns "state" or "keychain".
func (s *StateStore) Namespace() string { return s.namespace }

// Store saves value under key. A nil value deletes the key.
func (s *StateStore) Store(ctx context.Context, key string, value any) {
	if value == nil {
		s.remove(ctx, key)
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("state value not serializable", "key", key, "error", err)
		return
	}
	encoded := string(raw)
	if s.keychain != nil {
		sealed, err := s.keychain.Seal(encoded, s.additional(key))
		if err != nil {
			s.logger.Warn("keychain seal failed", "key", key, "error", err)
			s.fallback(key, encoded, err)
			return
		}
		encoded = sealed
	}
	if s.kv == nil {
		s.fallback(key, encoded, domain.ErrStateStore)
		return
	}
	if err := s.kv.Set(ctx, s.extensionID, s.namespace, key, encoded); err != nil {
		s.fallback(key, encoded, err)
		return
	}
	s.memory.drop(s.slot(key))
}

func (s *StateStore) remove(ctx context.Context, key string) {
	s.memory.drop(s.slot(key))
	if s.kv == nil {
		return
	}
	if err := s.kv.Delete(ctx, s.extensionID, s.namespace, key); err != nil {
		s.logger.Warn("state delete failed", "key", key, "error", err)
	}
}

func (s *StateStore) fallback(key, encoded string, cause error) {
	if s.memory.degrade() {
		s.logger.Warn("state store unavailable, using in-memory fallback",
			"namespace", s.namespace,
			"error", cause,
		)
	}
	s.memory.set(s.slot(key), encoded)
}

// Retrieve returns the value stored under key, or nil when absent.
func (s *StateStore) Retrieve(ctx context.Context, key string) any {
	encoded, ok := s.memory.get(s.slot(key))
	if !ok && s.kv != nil {
		v, found, err := s.kv.Get(ctx, s.extensionID, s.namespace, key)
		if err != nil {
			if s.memory.degrade() {
				s.logger.Warn("state store unavailable, using in-memory fallback",
					"namespace", s.namespace,
					"error", err,
				)
			}
			return nil
		}
		encoded, ok = v, found
	}
	if !ok {
		return nil
	}
	if s.keychain != nil {
		opened, err := s.keychain.Open(encoded, s.additional(key))
		if err != nil {
			s.logger.Warn("keychain open failed", "key", key, "error", err)
			return nil
		}
		encoded = opened
	}
	var value any
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		// Values written by other tools may be bare strings.
		return encoded
	}
	return value
}
