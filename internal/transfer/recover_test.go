package transfer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
)

func TestRecoverWithoutLedger(t *testing.T) {
	store := newFakeStore()
	c := newTestController(t, newLedger(t), store)
	ctx := context.Background()
	path, data := writeRandomFile(t, 300)
	rec, err := c.Upload(ctx, path)
	require.NoError(t, err)

	// A foreign object and a damaged duplicate of part 1 share the store.
	_, err = store.Put(ctx, []byte("not an envelope"))
	require.NoError(t, err)
	dup, err := store.Put(ctx, store.objects[refOf(t, c.ledger, rec.ID, 1)])
	require.NoError(t, err)
	store.corruptForever(dup)

	fresh := newTestController(t, newLedger(t), store)
	var out bytes.Buffer
	got, err := fresh.Recover(ctx, store, &out, rec.ID)
	require.NoError(t, err)
	require.Equal(t, data, out.Bytes())
	require.Equal(t, rec.Checksum, got.Checksum)
	require.Equal(t, rec.Size, got.Size)
	require.Equal(t, rec.TotalParts, got.TotalParts)

	_, err = fresh.Recover(ctx, store, &bytes.Buffer{}, "no-such-file")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecoverReportsMissingParts(t *testing.T) {
	store := newFakeStore()
	c := newTestController(t, newLedger(t), store)
	ctx := context.Background()
	path, _ := writeRandomFile(t, 300)
	rec, err := c.Upload(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, refOf(t, c.ledger, rec.ID, 3)))

	_, err = c.Recover(ctx, store, &bytes.Buffer{}, rec.ID)
	require.ErrorIs(t, err, chunker.ErrIncomplete)
}

func TestRebuildLedger(t *testing.T) {
	store := newFakeStore()
	c := newTestController(t, newLedger(t), store)
	ctx := context.Background()

	sources := make(map[string][]byte)
	for _, size := range []int{130, 64} {
		path, data := writeRandomFile(t, size)
		rec, err := c.Upload(ctx, path)
		require.NoError(t, err)
		sources[rec.ID] = data
	}

	ledger := newLedger(t)
	fresh := newTestController(t, ledger, store)
	created, err := fresh.Rebuild(ctx, store)
	require.NoError(t, err)
	require.Len(t, created, 2)

	for id, data := range sources {
		rec, err := ledger.GetFile(ctx, id)
		require.NoError(t, err)
		require.Equal(t, metadata.FileComplete, rec.Status)

		var out bytes.Buffer
		require.NoError(t, fresh.Download(ctx, id, &out))
		require.Equal(t, data, out.Bytes())
	}

	// Known files are left alone.
	created, err = fresh.Rebuild(ctx, store)
	require.NoError(t, err)
	require.Empty(t, created)
}
