package layout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asuasu0131/parking-monitor/pkg/fixgres"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	fixgres.BootOnce(t, fixgres.WithSetup(Migrate))
	sbx := fixgres.NewSandbox(t)
	return NewPostgresStore(sbx.DB)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	_, err := store.Load(ctx)
	require.True(t, errors.Is(err, ErrStoreNotExist), "fresh schema: %v", err)

	repo, err := Open(ctx, store, Options{})
	require.NoError(t, err)

	docs, err := store.Load(ctx)
	require.NoError(t, err, "initialized empty store must load")
	assert.Empty(t, docs)

	doc := Document{Name: "north", Slots: []Slot{{ID: "A1", X: ptr(1.5), Status: 1}}}
	id, err := repo.Save(ctx, "", doc)
	require.NoError(t, err)
	assert.Equal(t, "P1", id)

	reopened, err := Open(ctx, store, Options{})
	require.NoError(t, err)
	got, err := reopened.Get("P1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestPostgresStoreWriteReplacesAll(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	require.NoError(t, store.Write(ctx, map[string]Document{
		"a": DefaultDocument(),
		"b": DefaultDocument(),
	}))
	require.NoError(t, store.Write(ctx, map[string]Document{"b": {Slots: []Slot{}}}))

	docs, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Document{"b": {Slots: []Slot{}}}, docs)
}

func TestPostgresStoreCancelledWriteKeepsPrevious(t *testing.T) {
	store := newPostgresStore(t)
	require.NoError(t, store.Write(context.Background(), map[string]Document{"a": DefaultDocument()}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, store.Write(ctx, map[string]Document{}))

	docs, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]Document{"a": DefaultDocument()}, docs)
}
