package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	ports.RunSnapshotStoreContract(t, memory.NewStore())
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	snap := domain.NewSnapshot().WithResult("1")
	require.NoError(t, store.Save(ctx, "s1", snap))

	// Mutating the original after Save must not affect the stored copy.
	snap.Results[0] = "tampered"

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, loaded.Results)

	// Mutating a loaded copy must not affect the store either.
	loaded.Results[0] = "tampered"
	again, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, again.Results)
}
