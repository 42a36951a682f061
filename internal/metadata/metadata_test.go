package metadata

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/storage"
)

func openTestLedger(t *testing.T) *BadgerLedger {
	t.Helper()
	ledger, err := OpenInMemoryLedger()
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func seedFile(t *testing.T, ledger Ledger, id string, parts int) FileRecord {
	t.Helper()
	ctx := context.Background()
	rec := FileRecord{
		ID:         id,
		Name:       id + ".bin",
		Size:       int64(parts) * 10,
		TotalParts: parts,
		PartSize:   10,
		Checksum:   "feed",
		Status:     FilePending,
	}
	require.NoError(t, ledger.CreateFile(ctx, rec))
	for i := 0; i < parts; i++ {
		require.NoError(t, ledger.PutPart(ctx, PartRecord{
			FileID:   id,
			Index:    i,
			Length:   10,
			Checksum: fmt.Sprintf("sum-%d", i),
			Status:   PartPending,
		}))
	}
	got, err := ledger.GetFile(ctx, id)
	require.NoError(t, err)
	return got
}

func TestLedgerFileCRUD(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer ledger.Close()

	rec := seedFile(t, ledger, "file-a", 0)
	require.Equal(t, "file-a.bin", rec.Name)
	require.Equal(t, FilePending, rec.Status)
	require.False(t, rec.CreatedAt.IsZero())

	require.ErrorIs(t, ledger.CreateFile(ctx, rec), ErrExists)

	rec.Status = FileComplete
	require.NoError(t, ledger.UpdateFile(ctx, rec))
	got, err := ledger.GetFile(ctx, "file-a")
	require.NoError(t, err)
	require.Equal(t, FileComplete, got.Status)

	_, err = ledger.GetFile(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, ledger.UpdateFile(ctx, FileRecord{ID: "missing"}), ErrNotFound)
}

func TestLedgerPartsOrderedAndScoped(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)

	seedFile(t, ledger, "big", 12)
	seedFile(t, ledger, "bigger", 3)

	parts, err := ledger.ListParts(ctx, "big")
	require.NoError(t, err)
	require.Len(t, parts, 12)
	for i, p := range parts {
		require.Equal(t, i, p.Index)
		require.Equal(t, "big", p.FileID)
	}

	parts, err = ledger.ListParts(ctx, "bigger")
	require.NoError(t, err)
	require.Len(t, parts, 3)
}

func TestLedgerMarkPartVerified(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)
	seedFile(t, ledger, "f", 2)

	require.NoError(t, ledger.MarkPartVerified(ctx, "f", 1, storage.RemoteRef("ref-1")))
	part, err := ledger.GetPart(ctx, "f", 1)
	require.NoError(t, err)
	require.Equal(t, PartVerified, part.Status)
	require.Equal(t, storage.RemoteRef("ref-1"), part.RemoteRef)
	require.Equal(t, "sum-1", part.Checksum)

	require.ErrorIs(t, ledger.MarkPartVerified(ctx, "f", 7, "ref"), ErrNotFound)
	require.Error(t, ledger.MarkPartVerified(ctx, "f", 0, ""))

	part, err = ledger.GetPart(ctx, "f", 0)
	require.NoError(t, err)
	require.Equal(t, PartPending, part.Status)
	require.Empty(t, part.RemoteRef)
}

func TestLedgerConcurrentPartUpdates(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)
	seedFile(t, ledger, "f", 32)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, ledger.MarkPartVerified(ctx, "f", i, storage.RemoteRef(fmt.Sprintf("r%d", i))))
		}(i)
	}
	wg.Wait()

	parts, err := ledger.ListParts(ctx, "f")
	require.NoError(t, err)
	for _, p := range parts {
		require.Equal(t, PartVerified, p.Status)
	}
}

func TestLedgerListFilesNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, ledger.CreateFile(ctx, FileRecord{
			ID:        id,
			Status:    FileComplete,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	files, err := ledger.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.Equal(t, "new", files[0].ID)
	require.Equal(t, "old", files[2].ID)
}

func TestLedgerDeleteFile(t *testing.T) {
	ctx := context.Background()
	ledger := openTestLedger(t)
	seedFile(t, ledger, "gone", 4)
	seedFile(t, ledger, "kept", 2)

	require.NoError(t, ledger.DeleteFile(ctx, "gone"))
	_, err := ledger.GetFile(ctx, "gone")
	require.ErrorIs(t, err, ErrNotFound)
	parts, err := ledger.ListParts(ctx, "gone")
	require.NoError(t, err)
	require.Empty(t, parts)

	parts, err = ledger.ListParts(ctx, "kept")
	require.NoError(t, err)
	require.Len(t, parts, 2)

	require.ErrorIs(t, ledger.DeleteFile(ctx, "gone"), ErrNotFound)
}

func TestLedgerErrorAfterClose(t *testing.T) {
	ledger, err := OpenInMemoryLedger()
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	_, err = ledger.GetFile(context.Background(), "x")
	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
}

func TestManifestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestLedger(t)
	seedFile(t, src, "one", 3)
	require.NoError(t, src.MarkPartVerified(ctx, "one", 0, "ref-0"))

	manifest, err := Export(ctx, src)
	require.NoError(t, err)
	require.Len(t, manifest.Files, 1)

	var buf bytes.Buffer
	require.NoError(t, manifest.WriteYAML(&buf))
	require.Contains(t, buf.String(), "remote_ref: ref-0")

	decoded, err := ReadManifest(&buf)
	require.NoError(t, err)

	dst := openTestLedger(t)
	n, err := Import(ctx, dst, decoded)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	part, err := dst.GetPart(ctx, "one", 0)
	require.NoError(t, err)
	require.Equal(t, PartVerified, part.Status)
	require.Equal(t, storage.RemoteRef("ref-0"), part.RemoteRef)

	n, err = Import(ctx, dst, decoded)
	require.NoError(t, err)
	require.Zero(t, n)
}
