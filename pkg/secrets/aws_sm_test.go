package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSM struct {
	values map[string]string
	pages  [][]string
	calls  int
}

func (f *fakeSM) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSM) ListSecrets(_ context.Context, in *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	page := f.pages[f.calls]
	f.calls++

	out := &secretsmanager.ListSecretsOutput{}
	for _, name := range page {
		out.SecretList = append(out.SecretList, types.SecretListEntry{Name: aws.String(name)})
	}
	if f.calls < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	p := &AWSSecretsManagerProvider{client: &fakeSM{values: map[string]string{
		"dev/c1/quake": `{"username":"u","password":"p","base_url":"https://api.example"}`,
		"dev/bad/quake": `not-json`,
	}}}

	got, err := p.GetSecret(context.Background(), "dev/c1/quake")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example", got["base_url"])

	_, err = p.GetSecret(context.Background(), "dev/bad/quake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid secret format")

	_, err = p.GetSecret(context.Background(), "dev/missing/quake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch secret")
}

func TestAWSProvider_ListSecretsPaginates(t *testing.T) {
	fake := &fakeSM{pages: [][]string{{"dev/a/quake", "dev/b/quake"}, {"dev/c/quake"}}}
	p := &AWSSecretsManagerProvider{client: fake}

	names, err := p.ListSecrets(context.Background(), "dev/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/a/quake", "dev/b/quake", "dev/c/quake"}, names)
	assert.Equal(t, 2, fake.calls)
}
