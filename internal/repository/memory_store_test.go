package repository

import (
	"context"
	"testing"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrCartNotFound)

	cart := &domain.Cart{SessionID: "s1", Lines: sampleLines()}
	require.NoError(t, store.Save(ctx, cart))
	assert.Equal(t, int64(1), cart.Version)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, cart.Lines[0].Product.ID, loaded.Lines[0].Product.ID)
	assert.Equal(t, cart.Lines[1].OrderID, loaded.Lines[1].OrderID)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Cart{SessionID: "s1"}))
	err := store.Save(ctx, &domain.Cart{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_SavedCopyIsDetached(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cart := &domain.Cart{SessionID: "s1", Lines: sampleLines()}
	require.NoError(t, store.Save(ctx, cart))
	cart.Lines[0].Quantity = 99

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Lines[0].Quantity)
}

func TestMemoryStore_Corrupt(t *testing.T) {
	store := NewMemoryStore()
	store.put("s1", []byte("not json"), 4)

	_, err := store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)

	require.NoError(t, store.Delete(context.Background(), "s1"))
	_, err = store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

// put overwrites the raw record, bypassing the version check.
func (s *MemoryStore) put(sessionID string, data []byte, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = memoryRecord{data: data, version: version}
}
