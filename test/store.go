package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libopenstorage/credvault"
)

type storeTest struct {
	s     credvault.Store
	owner string
	other string
}

var (
	created = time.Date(2024, 4, 12, 7, 40, 32, 0, time.UTC)
	updated = created.Add(time.Hour)
)

// RunForStore runs the persistence contract against a backend. The backend
// must start out without records for freshly generated owners.
func RunForStore(store credvault.Store, t *testing.T) {
	st := &storeTest{
		s:     store,
		owner: "owner_" + uuid.New(),
		other: "owner_" + uuid.New(),
	}

	st.TestUpsert(t)
	st.TestGet(t)
	st.TestList(t)
	st.TestOwnerIsolation(t)
	st.TestDelete(t)
	st.TestIdentifiers(t)
	st.TestConcurrentUpsert(t)
}

func record(owner, service, payload string, at time.Time) credvault.Record {
	return credvault.Record{
		OwnerID:          owner,
		ServiceName:      service,
		EncryptedPayload: payload,
		IntegrityHash:    "hash-" + payload,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func (a *storeTest) TestUpsert(t *testing.T) {
	ctx := context.Background()

	err := a.s.Upsert(ctx, record(a.owner, "openai", "payload-1", created))
	require.NoError(t, err, "Unexpected error on Upsert")

	// Overwrite keeps CreatedAt and replaces everything else.
	err = a.s.Upsert(ctx, record(a.owner, "openai", "payload-2", updated))
	require.NoError(t, err, "Unexpected error on overwriting Upsert")

	rec, err := a.s.Get(ctx, a.owner, "openai")
	require.NoError(t, err)
	assert.Equal(t, "payload-2", rec.EncryptedPayload)
	assert.Equal(t, "hash-payload-2", rec.IntegrityHash)
	assert.True(t, created.Equal(rec.CreatedAt), "CreatedAt changed to %v", rec.CreatedAt)
	assert.True(t, updated.Equal(rec.UpdatedAt), "UpdatedAt is %v", rec.UpdatedAt)

	err = a.s.Upsert(ctx, record(a.owner, "firecrawl", "payload-3", created))
	require.NoError(t, err)
}

func (a *storeTest) TestGet(t *testing.T) {
	ctx := context.Background()

	rec, err := a.s.Get(ctx, a.owner, "firecrawl")
	require.NoError(t, err, "Expected Get to succeed")
	assert.Equal(t, a.owner, rec.OwnerID)
	assert.Equal(t, "firecrawl", rec.ServiceName)
	assert.Equal(t, "payload-3", rec.EncryptedPayload)

	_, err = a.s.Get(ctx, a.owner, "dummy")
	assert.ErrorIs(t, err, credvault.ErrNotFound, "Expected Get of a missing service to fail")
}

func (a *storeTest) TestList(t *testing.T) {
	records, err := a.s.List(context.Background(), a.owner)
	require.NoError(t, err)
	require.Len(t, records, 2)

	services := map[string]bool{}
	for _, rec := range records {
		assert.Equal(t, a.owner, rec.OwnerID)
		services[rec.ServiceName] = true
	}
	assert.True(t, services["openai"])
	assert.True(t, services["firecrawl"])

	records, err = a.s.List(context.Background(), "owner_"+uuid.New())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (a *storeTest) TestOwnerIsolation(t *testing.T) {
	ctx := context.Background()

	_, err := a.s.Get(ctx, a.other, "openai")
	assert.ErrorIs(t, err, credvault.ErrNotFound, "Another owner must not see the record")

	err = a.s.Delete(ctx, a.other, "openai")
	assert.ErrorIs(t, err, credvault.ErrNotFound, "Another owner must not delete the record")

	err = a.s.Upsert(ctx, record(a.other, "openai", "other-payload", updated))
	require.NoError(t, err)

	rec, err := a.s.Get(ctx, a.owner, "openai")
	require.NoError(t, err)
	assert.Equal(t, "payload-2", rec.EncryptedPayload, "Another owner's write leaked")

	records, err := a.s.List(ctx, a.other)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "other-payload", records[0].EncryptedPayload)

	require.NoError(t, a.s.Delete(ctx, a.other, "openai"))
}

func (a *storeTest) TestDelete(t *testing.T) {
	ctx := context.Background()

	err := a.s.Delete(ctx, a.owner, "openai")
	assert.NoError(t, err, "Expected Delete to succeed")

	_, err = a.s.Get(ctx, a.owner, "openai")
	assert.ErrorIs(t, err, credvault.ErrNotFound, "Unexpected error on Get after delete")

	err = a.s.Delete(ctx, a.owner, "openai")
	assert.ErrorIs(t, err, credvault.ErrNotFound, "Expected second Delete to report a missing record")

	require.NoError(t, a.s.Delete(ctx, a.owner, "firecrawl"))
	records, err := a.s.List(ctx, a.owner)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (a *storeTest) TestIdentifiers(t *testing.T) {
	ctx := context.Background()

	err := a.s.Upsert(ctx, record("", "openai", "payload", created))
	assert.ErrorIs(t, err, credvault.ErrNotAuthenticated)

	_, err = a.s.Get(ctx, "", "openai")
	assert.ErrorIs(t, err, credvault.ErrNotAuthenticated)

	_, err = a.s.List(ctx, "")
	assert.ErrorIs(t, err, credvault.ErrNotAuthenticated)

	err = a.s.Delete(ctx, "", "openai")
	assert.ErrorIs(t, err, credvault.ErrNotAuthenticated)

	err = a.s.Upsert(ctx, record(a.owner+"/../"+a.other, "openai", "payload", created))
	assert.ErrorIs(t, err, credvault.ErrInvalidIdentifier)

	_, err = a.s.Get(ctx, a.owner, "../openai")
	assert.ErrorIs(t, err, credvault.ErrInvalidIdentifier)

	err = a.s.Upsert(ctx, record(a.owner, "", "payload", created))
	assert.ErrorIs(t, err, credvault.ErrInvalidIdentifier)
}

func (a *storeTest) TestConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	payloads := []string{"writer-a", "writer-b"}

	var wg sync.WaitGroup
	errs := make([]error, len(payloads))
	for i, p := range payloads {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			errs[i] = a.s.Upsert(ctx, record(a.owner, "stripe", p, updated))
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rec, err := a.s.Get(ctx, a.owner, "stripe")
	require.NoError(t, err)
	assert.Contains(t, payloads, rec.EncryptedPayload)
	assert.Equal(t, "hash-"+rec.EncryptedPayload, rec.IntegrityHash, "Record mixes two writes")

	require.NoError(t, a.s.Delete(ctx, a.owner, "stripe"))
}
