package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider defines a generic secrets manager interface.
// AWS Secrets Manager backs it in deployed environments; StaticProvider
// serves local development and tests.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name matches the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// ErrSecretNotFound is returned by StaticProvider for unknown keys.
var ErrSecretNotFound = fmt.Errorf("secret not found")

// StaticProvider is an in-memory Provider.
type StaticProvider struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{secrets: make(map[string]map[string]string)}
}

// Put stores or replaces a secret.
func (p *StaticProvider) Put(key string, value map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = value
}

func (p *StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.secrets[key]
	if !ok {
		return nil, fmt.Errorf("[%s]: %w", key, ErrSecretNotFound)
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out, nil
}

func (p *StaticProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for k := range p.secrets {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}
