package secrets

import (
	"fmt"
	"log"
	"os"

	vault "github.com/sosedoff/ansible-vault-go"
	"gopkg.in/yaml.v3"
)

// AnsibleVault serves secrets from an ansible-vault encrypted yaml file. Nested maps are flattened
// with dots, i.e. {db: {password: x}} is available as "db.password".
type AnsibleVault struct {
	data map[string]string
}

// NewAnsibleVault decrypts vault file with the password
func NewAnsibleVault(fname, password string) (*AnsibleVault, error) {
	fi, err := os.Stat(fname)
	if err != nil {
		return nil, fmt.Errorf("can't stat vault file %s: %w", fname, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("vault %s is not a regular file", fname)
	}

	decrypted, err := vault.DecryptFile(fname, password)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt vault %s: %w", fname, err)
	}

	raw := map[string]any{}
	if err = yaml.Unmarshal([]byte(decrypted), &raw); err != nil {
		return nil, fmt.Errorf("can't unmarshal vault %s: %w", fname, err)
	}
	res := &AnsibleVault{data: map[string]string{}}
	flatten("", raw, res.data)
	log.Printf("[INFO] ansible vault %s decrypted, %d keys", fname, len(res.data))
	return res, nil
}

// Get returns the value for the key
func (a *AnsibleVault) Get(key string) (string, error) {
	if v, ok := a.data[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("can't get %q: %w", key, ErrNotFound)
}

func flatten(prefix string, src map[string]any, dst map[string]string) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, dst)
			continue
		}
		dst[key] = fmt.Sprintf("%v", v)
	}
}
