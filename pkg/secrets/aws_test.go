package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]*secretsmanager.GetSecretValueOutput
	pages  []*secretsmanager.ListSecretsOutput
	getErr error
	calls  int
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return out, nil
}

func (f *fakeSecretsManager) ListSecrets(_ context.Context, _ *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]*secretsmanager.GetSecretValueOutput{
		"marketplace/api-keys/a": {SecretString: aws.String(`{"address":"0xabc","name":"desk-1","tier":2,"active":true}`)},
		"marketplace/api-keys/b": {SecretBinary: []byte(`{"address":"0xdef"}`)},
		"marketplace/api-keys/c": {SecretString: aws.String(`{"address":{"nested":1}}`)},
		"marketplace/api-keys/d": {},
	}}
	p := newAWSProvider(fake)
	ctx := context.Background()

	got, err := p.GetSecret(ctx, "marketplace/api-keys/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"address": "0xabc", "name": "desk-1", "tier": "2", "active": "true"}, got)

	got, err = p.GetSecret(ctx, "marketplace/api-keys/b")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", got["address"])

	_, err = p.GetSecret(ctx, "marketplace/api-keys/c")
	assert.ErrorContains(t, err, "not a scalar")

	_, err = p.GetSecret(ctx, "marketplace/api-keys/d")
	assert.ErrorContains(t, err, "is empty")

	_, err = p.GetSecret(ctx, "marketplace/api-keys/missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestAWSProvider_GetSecretOutageIsNotNotFound(t *testing.T) {
	p := newAWSProvider(&fakeSecretsManager{getErr: errors.New("throttled")})
	_, err := p.GetSecret(context.Background(), "marketplace/api-keys/a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestAWSProvider_ListSecretsSkipsDeleted(t *testing.T) {
	deleted := time.Unix(1_700_000_000, 0)
	fake := &fakeSecretsManager{pages: []*secretsmanager.ListSecretsOutput{
		{
			SecretList: []types.SecretListEntry{
				{Name: aws.String("marketplace/api-keys/a")},
				{Name: aws.String("marketplace/api-keys/b"), DeletedDate: &deleted},
			},
			NextToken: aws.String("page-2"),
		},
		{
			SecretList: []types.SecretListEntry{
				{Name: aws.String("marketplace/api-keys/c")},
				{Name: aws.String("other/marketplace/api-keys/x")},
				{},
			},
		},
	}}
	names, err := newAWSProvider(fake).ListSecrets(context.Background(), "marketplace/api-keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"marketplace/api-keys/a", "marketplace/api-keys/c"}, names)
}
