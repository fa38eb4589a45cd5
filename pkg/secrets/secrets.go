// Package secrets provides secret providers used to resolve database passwords referenced from profiles.
// Supported: in-memory, encrypted store kept in sqlite, postgres or mysql, HashiCorp Vault, AWS Secrets Manager
// and ansible-vault files.
package secrets

import (
	"errors"
	"fmt"
)

// ErrNotFound returned by providers when the key is missing
var ErrNotFound = errors.New("secret not found")

// Provider defines interface for secrets providers
type Provider interface {
	Get(key string) (string, error)
}

// Store is a provider allowing to manage secrets, not just read them
type Store interface {
	Provider
	Set(key, value string) error
	Delete(key string) error
	List(prefix string) ([]string, error)
}

// NoOp is a provider with no secrets at all, used when no provider configured
type NoOp struct{}

// Get always fails
func (NoOp) Get(key string) (string, error) {
	return "", fmt.Errorf("no secrets provider, can't get %q: %w", key, ErrNotFound)
}
