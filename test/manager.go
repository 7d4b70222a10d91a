package test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libopenstorage/credvault"
)

var (
	firecrawlKey = "fc-" + strings.Repeat("a1B2", 8)
	openaiKey    = "sk-" + strings.Repeat("Xy9", 16)
)

// RunForManager runs the credential vault behaviour end to end on top of a
// backend.
func RunForManager(store credvault.Store, t *testing.T) {
	m, err := credvault.New(store, map[string]interface{}{
		credvault.RateLimitStrategyKey: credvault.RateLimitNone,
	})
	require.NoError(t, err)

	owner := credvault.WithPrincipal(context.Background(), credvault.Owner("owner_"+uuid.New()))
	other := credvault.WithPrincipal(context.Background(), credvault.Owner("owner_"+uuid.New()))

	// Store then retrieve returns the original secret.
	require.NoError(t, m.Store(owner, "firecrawl", firecrawlKey))
	secret, err := m.Retrieve(owner, "firecrawl")
	require.NoError(t, err)
	assert.Equal(t, firecrawlKey, secret)

	// Raw records never hold the plaintext.
	rec, err := store.Get(context.Background(), credvault.PrincipalFromContext(owner).OwnerID(), "firecrawl")
	require.NoError(t, err)
	assert.NotContains(t, rec.EncryptedPayload, firecrawlKey)

	// Another owner sees nothing.
	_, err = m.Retrieve(other, "firecrawl")
	assert.ErrorIs(t, err, credvault.ErrNotFound)
	has, err := m.Has(other, "firecrawl")
	require.NoError(t, err)
	assert.False(t, has)
	assert.ErrorIs(t, m.Delete(other, "firecrawl"), credvault.ErrNotFound)

	// Listing carries no payloads.
	require.NoError(t, m.Store(owner, "openai", openaiKey))
	summaries, err := m.List(owner)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "firecrawl", summaries[0].ServiceName)
	assert.Equal(t, "openai", summaries[1].ServiceName)

	summaries, err = m.List(other)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	// Concurrent stores for the same key: both succeed, last write wins.
	candidates := []string{
		"fc-" + strings.Repeat("A", 32),
		"fc-" + strings.Repeat("b", 32),
	}
	var wg sync.WaitGroup
	errs := make([]error, len(candidates))
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			errs[i] = m.Store(owner, "firecrawl", c)
		}(i, c)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	secret, err = m.Retrieve(owner, "firecrawl")
	require.NoError(t, err)
	assert.Contains(t, candidates, secret)

	// Delete then retrieve is not found.
	require.NoError(t, m.Delete(owner, "firecrawl"))
	_, err = m.Retrieve(owner, "firecrawl")
	assert.ErrorIs(t, err, credvault.ErrNotFound)
	assert.ErrorIs(t, m.Delete(owner, "firecrawl"), credvault.ErrNotFound)

	require.NoError(t, m.Delete(owner, "openai"))
}
