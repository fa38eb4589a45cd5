package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is a secret store keeping secrets in memory, unencrypted. Made for tests and ad-hoc runs.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemory makes Memory store with initial secrets, the map is copied
func NewMemory(secrets map[string]string) *Memory {
	res := &Memory{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		res.secrets[k] = v
	}
	return res
}

// Get returns the secret for the given key
func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if val, ok := m.secrets[key]; ok {
		return val, nil
	}
	return "", fmt.Errorf("can't get %q: %w", key, ErrNotFound)
}

// Set adds or replaces the secret
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

// Delete removes the secret, missing key is an error
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[key]; !ok {
		return fmt.Errorf("can't delete %q: %w", key, ErrNotFound)
	}
	delete(m.secrets, key)
	return nil
}

// List returns sorted keys starting with prefix. Empty prefix or "*" lists all keys.
func (m *Memory) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []string{}
	for k := range m.secrets {
		if prefix == "" || prefix == "*" || strings.HasPrefix(k, prefix) {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res, nil
}
