package aws_secrets_manager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libopenstorage/credvault"
	"github.com/libopenstorage/credvault/aws/utils"
	"github.com/libopenstorage/credvault/test"
)

type fakeSecret struct {
	value   string
	deleted bool
	tags    []*secretsmanager.Tag
}

// fakeSecretsManager keeps secrets in memory and implements the calls the
// store makes. Any other call panics on the nil embedded interface.
type fakeSecretsManager struct {
	secretsmanageriface.SecretsManagerAPI

	mu       sync.Mutex
	secrets  map[string]*fakeSecret
	pageSize int
	deletes  []*secretsmanager.DeleteSecretInput
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{secrets: map[string]*fakeSecret{}, pageSize: 2}
}

func notFound() error {
	return awserr.New(secretsmanager.ErrCodeResourceNotFoundException,
		"Secrets Manager can't find the specified secret.", nil)
}

func (f *fakeSecretsManager) GetSecretValueWithContext(
	_ aws.Context,
	input *secretsmanager.GetSecretValueInput,
	_ ...request.Option,
) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[aws.StringValue(input.SecretId)]
	if !ok {
		return nil, notFound()
	}
	if s.deleted {
		return nil, awserr.New(secretsmanager.ErrCodeInvalidRequestException,
			"You can't perform this operation on the secret because it was marked for deletion.", nil)
	}
	return &secretsmanager.GetSecretValueOutput{
		Name:         input.SecretId,
		SecretString: aws.String(s.value),
		VersionId:    aws.String("v1"),
	}, nil
}

func (f *fakeSecretsManager) CreateSecretWithContext(
	_ aws.Context,
	input *secretsmanager.CreateSecretInput,
	_ ...request.Option,
) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.StringValue(input.Name)
	if s, ok := f.secrets[name]; ok {
		if s.deleted {
			return nil, awserr.New(secretsmanager.ErrCodeInvalidRequestException,
				"You can't create this secret because a secret with this name is already scheduled for deletion.", nil)
		}
		return nil, awserr.New(secretsmanager.ErrCodeResourceExistsException,
			"The operation failed because the secret "+name+" already exists.", nil)
	}
	f.secrets[name] = &fakeSecret{value: aws.StringValue(input.SecretString), tags: input.Tags}
	return &secretsmanager.CreateSecretOutput{Name: input.Name}, nil
}

func (f *fakeSecretsManager) PutSecretValueWithContext(
	_ aws.Context,
	input *secretsmanager.PutSecretValueInput,
	_ ...request.Option,
) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[aws.StringValue(input.SecretId)]
	if !ok {
		return nil, notFound()
	}
	s.value = aws.StringValue(input.SecretString)
	return &secretsmanager.PutSecretValueOutput{Name: input.SecretId}, nil
}

func (f *fakeSecretsManager) RestoreSecretWithContext(
	_ aws.Context,
	input *secretsmanager.RestoreSecretInput,
	_ ...request.Option,
) (*secretsmanager.RestoreSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.secrets[aws.StringValue(input.SecretId)]
	if !ok {
		return nil, notFound()
	}
	s.deleted = false
	return &secretsmanager.RestoreSecretOutput{Name: input.SecretId}, nil
}

func (f *fakeSecretsManager) DeleteSecretWithContext(
	_ aws.Context,
	input *secretsmanager.DeleteSecretInput,
	_ ...request.Option,
) (*secretsmanager.DeleteSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.StringValue(input.SecretId)
	s, ok := f.secrets[name]
	if !ok {
		return nil, notFound()
	}
	f.deletes = append(f.deletes, input)
	if aws.BoolValue(input.ForceDeleteWithoutRecovery) {
		delete(f.secrets, name)
	} else {
		s.deleted = true
	}
	return &secretsmanager.DeleteSecretOutput{Name: input.SecretId}, nil
}

func (f *fakeSecretsManager) ListSecretsPagesWithContext(
	_ aws.Context,
	input *secretsmanager.ListSecretsInput,
	fn func(*secretsmanager.ListSecretsOutput, bool) bool,
	_ ...request.Option,
) error {
	f.mu.Lock()
	var names []string
	for name, s := range f.secrets {
		if s.deleted {
			continue
		}
		if matchesFilters(name, input.Filters) {
			names = append(names, name)
		}
	}
	f.mu.Unlock()
	sort.Strings(names)

	for start := 0; start == 0 || start < len(names); start += f.pageSize {
		end := start + f.pageSize
		if end > len(names) {
			end = len(names)
		}
		page := &secretsmanager.ListSecretsOutput{}
		for _, name := range names[start:end] {
			page.SecretList = append(page.SecretList, &secretsmanager.SecretListEntry{Name: aws.String(name)})
		}
		if !fn(page, end == len(names)) {
			return nil
		}
	}
	return nil
}

func matchesFilters(name string, filters []*secretsmanager.Filter) bool {
	for _, filter := range filters {
		if aws.StringValue(filter.Key) != secretsmanager.FilterNameStringTypeName {
			continue
		}
		for _, v := range filter.Values {
			if strings.HasPrefix(name, aws.StringValue(v)) {
				return true
			}
		}
		return false
	}
	return true
}

func setupTestStore(t *testing.T, fake *fakeSecretsManager) credvault.Store {
	t.Helper()

	s, err := credvault.NewStore(Name, map[string]interface{}{ClientKey: fake})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Setenv(utils.AwsRegionKey, "")

	testCases := []struct {
		name        string
		cfg         map[string]interface{}
		expectedErr error
	}{
		{
			name:        "config is not provided",
			expectedErr: utils.ErrAWSCredsNotProvided,
		},
		{
			name: "region is not provided",
			cfg: map[string]interface{}{
				utils.AwsSecretAccessKey: "key1",
				utils.AwsAccessKey:       "key2",
			},
			expectedErr: utils.ErrAWSRegionNotProvided,
		},
		{
			name: "recovery window out of range",
			cfg: map[string]interface{}{
				utils.AwsRegionKey:         "us-east-1",
				utils.AwsRecoveryWindowKey: 3,
			},
			expectedErr: utils.ErrInvalidRecoveryWindow,
		},
		{
			name: "recovery window not a number",
			cfg: map[string]interface{}{
				utils.AwsRegionKey:         "us-east-1",
				utils.AwsRecoveryWindowKey: "week",
			},
			expectedErr: utils.ErrInvalidRecoveryWindow,
		},
	}

	for _, tc := range testCases {
		_, err := New(tc.cfg)
		require.Equal(t, tc.expectedErr, err, tc.name)
	}

	s, err := New(map[string]interface{}{
		utils.AwsRegionKey:       "us-east-1",
		utils.AwsAccessKey:       "AKIAEXAMPLE",
		utils.AwsSecretAccessKey: "secret",
		utils.AwsEndpointKey:     "http://127.0.0.1:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, Name, s.String())
}

func TestStore(t *testing.T) {
	test.RunForStore(setupTestStore(t, newFakeSecretsManager()), t)
}

func TestManager(t *testing.T) {
	test.RunForManager(setupTestStore(t, newFakeSecretsManager()), t)
}

func TestSecretLayout(t *testing.T) {
	fake := newFakeSecretsManager()
	s := setupTestStore(t, fake)
	ctx := context.Background()

	now := time.Date(2024, 4, 12, 7, 40, 32, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, credvault.Record{
		OwnerID:          "owner",
		ServiceName:      "openai",
		EncryptedPayload: "payload",
		IntegrityHash:    "hash",
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	secret, ok := fake.secrets["credvault/owner/openai"]
	require.True(t, ok)
	assert.Contains(t, secret.value, `"encrypted_payload":"payload"`)
	assert.Contains(t, secret.value, `"owner_id":"owner"`)
	require.Len(t, secret.tags, 2)
	assert.Equal(t, "owner", aws.StringValue(secret.tags[0].Value))

	// A prefix of another owner id must not leak into the listing.
	require.NoError(t, s.Upsert(ctx, credvault.Record{
		OwnerID:          "owner2",
		ServiceName:      "openai",
		EncryptedPayload: "other",
		IntegrityHash:    "hash",
	}))
	records, err := s.List(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "payload", records[0].EncryptedPayload)

	require.NoError(t, s.Delete(ctx, "owner", "openai"))
	require.Len(t, fake.deletes, 1)
	assert.True(t, aws.BoolValue(fake.deletes[0].ForceDeleteWithoutRecovery))
	assert.Nil(t, fake.deletes[0].RecoveryWindowInDays)
}

func TestRecoveryWindow(t *testing.T) {
	fake := newFakeSecretsManager()
	s, err := New(map[string]interface{}{
		ClientKey:                  fake,
		utils.AwsRecoveryWindowKey: 7,
	})
	require.NoError(t, err)
	ctx := context.Background()

	rec := credvault.Record{
		OwnerID:          "owner",
		ServiceName:      "stripe",
		EncryptedPayload: "payload-1",
		IntegrityHash:    "hash",
	}
	require.NoError(t, s.Upsert(ctx, rec))
	require.NoError(t, s.Delete(ctx, "owner", "stripe"))
	require.Len(t, fake.deletes, 1)
	assert.Equal(t, int64(7), aws.Int64Value(fake.deletes[0].RecoveryWindowInDays))

	// Scheduled for deletion reads as missing.
	_, err = s.Get(ctx, "owner", "stripe")
	assert.Equal(t, credvault.ErrNotFound, err)
	assert.Equal(t, credvault.ErrNotFound, s.Delete(ctx, "owner", "stripe"))

	// Storing again restores the secret and overwrites its value.
	rec.EncryptedPayload = "payload-2"
	require.NoError(t, s.Upsert(ctx, rec))
	got, err := s.Get(ctx, "owner", "stripe")
	require.NoError(t, err)
	assert.Equal(t, "payload-2", got.EncryptedPayload)
}
