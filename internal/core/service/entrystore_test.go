package service

import (
	"path/filepath"
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryStoreRoundTrip(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "store", "entries.json")
	store := NewEntryStore(path)
	require.NoError(store.Load())

	entry := domain.ConfigEntry{
		Id:       "e1",
		Domain:   "homewizard",
		Title:    "P1 Meter",
		UniqueId: "3c39e7",
		Data:     map[string]any{"host": "10.0.0.2"},
	}
	require.NoError(store.Add(entry))

	reloaded := NewEntryStore(path)
	require.NoError(reloaded.Load())
	entries := reloaded.All()
	require.Len(entries, 1)
	assert.Equal(t, entry, entries[0])

	got, ok := reloaded.Get("e1")
	require.True(ok)
	assert.Equal(t, "P1 Meter", got.Title)
	assert.True(t, reloaded.HasUniqueId("homewizard", "3c39e7"))
	assert.False(t, reloaded.HasUniqueId("modbusmeter", "3c39e7"))
}

func TestEntryStoreRemove(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "entries.json")
	store := NewEntryStore(path)
	require.NoError(store.Load())
	require.NoError(store.Add(domain.ConfigEntry{Id: "e1", Domain: "homewizard"}))
	require.NoError(store.Add(domain.ConfigEntry{Id: "e2", Domain: "modbusmeter"}))

	removed, err := store.Remove("e1")
	require.NoError(err)
	require.True(removed)

	removed, err = store.Remove("e1")
	require.NoError(err)
	assert.False(t, removed)

	reloaded := NewEntryStore(path)
	require.NoError(reloaded.Load())
	require.Len(reloaded.All(), 1)
	_, ok := reloaded.Get("e2")
	assert.True(t, ok)
}

func TestEntryStoreMissingFileIsEmpty(t *testing.T) {
	store := NewEntryStore(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, store.Load())
	assert.Empty(t, store.All())
}
