package optimize

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreHasChanged(t *testing.T) {
	store := startedStore(t)

	changed, err := store.TestHasChanged("p", "v", "k", "f")
	require.NoError(t, err)
	require.True(t, changed, "unknown coordinate")

	require.NoError(t, store.StoreTestFootprint("p", "v", "k", "f"))

	changed, err = store.TestHasChanged("p", "v", "k", "f")
	require.NoError(t, err)
	require.False(t, changed, "same footprint")

	changed, err = store.TestHasChanged("p", "v", "k", "f2")
	require.NoError(t, err)
	require.True(t, changed, "different footprint")

	changed, err = store.TestHasChanged("p", "v", "k", "")
	require.NoError(t, err)
	require.True(t, changed, "absent footprint")
}

func TestMemoryStorePersistence(t *testing.T) {
	store := startedStore(t)
	require.NoError(t, store.StoreTestFootprint("p", "v", "k", "f"))
	store.Stop(false)
	require.Equal(t, 0, store.Len())

	require.NoError(t, store.Start(StoreConfig{}))
	changed, err := store.TestHasChanged("p", "v", "k", "f")
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, store.StoreTestFootprint("p", "v", "k", "f"))
	store.Stop(true)

	fp, ok := store.Footprint(Coordinate{Project: "p", Version: "v", Key: "k"})
	require.True(t, ok)
	require.Equal(t, "f", fp)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.TestHasChanged("p", "v", "k", "f")
	require.ErrorIs(t, err, ErrStoreNotStarted)
	require.ErrorIs(t, store.StoreTestFootprint("p", "v", "k", "f"), ErrStoreNotStarted)

	require.NoError(t, store.Start(StoreConfig{}))
	require.NoError(t, store.StoreTestFootprint("p", "v", "k", "f"))
	require.NoError(t, store.Start(StoreConfig{}), "second start is a no-op")

	changed, err := store.TestHasChanged("p", "v", "k", "f")
	require.NoError(t, err)
	require.False(t, changed, "second start must keep pending state")

	store.Stop(true)
	store.Stop(true)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Has(MemoryStoreName))

	custom := NewMemoryStore()
	r.Register("custom", func(zerolog.Logger) (Store, error) { return custom, nil })

	store, err := r.New("custom", zerolog.Nop())
	require.NoError(t, err)
	require.Same(t, custom, store)

	_, err = r.New("missing", zerolog.Nop())
	require.ErrorIs(t, err, ErrUnknownStore)

	require.Equal(t, []string{"custom", MemoryStoreName}, r.Names())
}

func TestRegistryMemoryStoreIsShared(t *testing.T) {
	r := NewRegistry()

	a, err := r.New(MemoryStoreName, zerolog.Nop())
	require.NoError(t, err)
	b, err := r.New(MemoryStoreName, zerolog.Nop())
	require.NoError(t, err)
	require.Same(t, a, b)
}
