package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the part of the Secrets Manager client the provider uses.
type secretsManagerAPI interface {
	secretsmanager.ListSecretsAPIClient
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads API-key principals from AWS Secrets Manager. Each secret
// is a flat JSON object, e.g. {"address": "0x...", "name": "desk-1"}.
type AWSProvider struct {
	client secretsManagerAPI
}

// NewAWSProvider builds a provider from the default credential chain.
func NewAWSProvider(ctx context.Context, region string) (Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newAWSProvider(secretsmanager.NewFromConfig(cfg)), nil
}

func newAWSProvider(client secretsManagerAPI) *AWSProvider {
	return &AWSProvider{client: client}
}

// GetSecret returns the decoded secret. A secret that does not exist yields
// ErrSecretNotFound so callers can tell an unknown key from an outage.
func (p *AWSProvider) GetSecret(ctx context.Context, key string) (map[string]string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(key),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("[%s]: %w", key, ErrSecretNotFound)
		}
		return nil, fmt.Errorf("fetch secret [%s]: %w", key, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret [%s] is empty", key)
	}
	return decodeSecret(key, raw)
}

// decodeSecret flattens a JSON object into strings. Numbers and booleans are
// kept in their JSON spelling; nested values are rejected.
func decodeSecret(key string, raw []byte) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("secret [%s] is not a JSON object: %w", key, err)
	}
	out := make(map[string]string, len(fields))
	for name, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[name] = s
			continue
		}
		text := strings.TrimSpace(string(v))
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			return nil, fmt.Errorf("secret [%s] field %q is not a scalar", key, name)
		}
		out[name] = text
	}
	return out, nil
}

// ListSecrets returns the names under prefix. Secrets scheduled for deletion
// are revoked keys and are left out.
func (p *AWSProvider) ListSecrets(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	paginator := secretsmanager.NewListSecretsPaginator(p.client, &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{prefix},
		}},
		MaxResults: aws.Int32(100),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list secrets [%s]: %w", prefix, err)
		}
		for _, entry := range page.SecretList {
			if entry.Name == nil || entry.DeletedDate != nil {
				continue
			}
			if strings.HasPrefix(*entry.Name, prefix) {
				names = append(names, *entry.Name)
			}
		}
	}
	return names, nil
}
