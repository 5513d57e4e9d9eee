package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/pkg/model"
	pkgsecrets "github.com/Checker-Finance/marketplace/pkg/secrets"
	"github.com/Checker-Finance/marketplace/pkg/utils"
)

// ErrUnauthorized is returned for missing, unknown or malformed API keys.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the ledger identity an API key acts as.
type Principal struct {
	Address model.Address
	Name    string
}

// APIKeyResolver maps API keys to principals stored in a secrets provider,
// caching results locally to reduce provider calls.
//
// Secret naming convention: {prefix}{sha256(apiKey) hex}. Raw keys never
// appear in secret names or logs.
type APIKeyResolver struct {
	logger   *zap.Logger
	prefix   string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[Principal]
}

func NewAPIKeyResolver(
	logger *zap.Logger,
	prefix string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[Principal],
) *APIKeyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyResolver{
		logger:   logger,
		prefix:   prefix,
		provider: provider,
		cache:    cache,
	}
}

// HashKey returns the digest used to name an API key's secret.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// SecretName builds the provider key for an API key.
func (r *APIKeyResolver) SecretName(apiKey string) string {
	return r.prefix + HashKey(apiKey)
}

// Resolve returns the principal for apiKey.
func (r *APIKeyResolver) Resolve(ctx context.Context, apiKey string) (Principal, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return Principal{}, fmt.Errorf("%w: missing api key", ErrUnauthorized)
	}
	digest := HashKey(apiKey)

	if p, ok := r.cache.Get(digest); ok {
		metrics.IncCacheHit("hit")
		return p, nil
	}
	if r.cache.Unknown(digest) {
		metrics.IncCacheHit("unknown")
		return Principal{}, fmt.Errorf("%w: unknown api key", ErrUnauthorized)
	}
	metrics.IncCacheHit("miss")

	secret, err := r.provider.GetSecret(ctx, r.prefix+digest)
	if errors.Is(err, pkgsecrets.ErrSecretNotFound) {
		r.cache.PutUnknown(digest)
		r.logger.Warn("auth.unknown_api_key", zap.String("key", utils.MaskKey(apiKey)))
		return Principal{}, fmt.Errorf("%w: unknown api key", ErrUnauthorized)
	}
	if err != nil {
		r.logger.Error("auth.secret_fetch_failed",
			zap.String("key", utils.MaskKey(apiKey)),
			zap.Error(err))
		return Principal{}, fmt.Errorf("%w: api key lookup failed", ErrUnauthorized)
	}

	p, err := parsePrincipal(secret)
	if err != nil {
		r.logger.Error("auth.secret_invalid",
			zap.String("key", utils.MaskKey(apiKey)),
			zap.Error(err))
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	r.cache.Put(digest, p)
	r.logger.Info("auth.api_key_resolved",
		zap.String("key", utils.MaskKey(apiKey)),
		zap.String("principal", p.Name),
		zap.String("address", p.Address.String()))
	return p, nil
}

// Revoke drops a cached key, known or unknown, so the next request re-reads
// the provider.
func (r *APIKeyResolver) Revoke(apiKey string) {
	r.cache.Bust(HashKey(strings.TrimSpace(apiKey)))
}

// CountKeys reports how many API keys are provisioned under the prefix.
func (r *APIKeyResolver) CountKeys(ctx context.Context) (int, error) {
	names, err := r.provider.ListSecrets(ctx, r.prefix)
	if err != nil {
		return 0, fmt.Errorf("list api keys: %w", err)
	}
	n := 0
	for _, name := range names {
		if len(strings.TrimPrefix(name, r.prefix)) == sha256.Size*2 {
			n++
		}
	}
	r.logger.Info("auth.api_keys_discovered", zap.Int("count", n))
	return n, nil
}

func parsePrincipal(secret map[string]string) (Principal, error) {
	raw, ok := secret["address"]
	if !ok {
		return Principal{}, errors.New("secret has no address")
	}
	addr, err := model.ParseAddress(raw)
	if err != nil {
		return Principal{}, err
	}
	name := secret["name"]
	if name == "" {
		name = addr.String()
	}
	return Principal{Address: addr, Name: name}, nil
}
