package secrets

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// HashiVault reads secrets from a single HashiCorp Vault path. Both kv v2 (values under "data")
// and kv v1 (flat) layouts are supported.
type HashiVault struct {
	client *api.Client
	path   string
}

// NewHashiVault makes vault provider for the given address, secret path and token
func NewHashiVault(addr, path, token string) (*HashiVault, error) {
	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("can't make vault client: %w", err)
	}
	client.SetToken(token)
	return &HashiVault{client: client, path: path}, nil
}

// Get reads the path and returns the key's value
func (v *HashiVault) Get(key string) (string, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return "", fmt.Errorf("can't read vault path %s: %w", v.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("can't get %q, no data at %s: %w", key, v.path, ErrNotFound)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]any); ok {
		data = nested
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("can't get %q: %w", key, ErrNotFound)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unexpected value type %T for %q", raw, key)
	}
	return value, nil
}
