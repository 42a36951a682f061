package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jaywantadh/msgvault/internal/storage"
)

const (
	filePrefix = "file:"
	partPrefix = "part:"

	// conflictRetries bounds how often a transaction is replayed after a badger conflict.
	conflictRetries = 5
)

// BadgerLedger is a Ledger backed by BadgerDB.
type BadgerLedger struct {
	db  *badger.DB
	now func() time.Time
}

var _ Ledger = (*BadgerLedger)(nil)

// OpenLedger opens (or creates) a BadgerDB ledger at the given path.
func OpenLedger(dbPath string) (*BadgerLedger, error) {
	return openLedger(badger.DefaultOptions(dbPath).WithLogger(nil))
}

// OpenInMemoryLedger opens a ledger that lives only as long as the process.
func OpenInMemoryLedger() (*BadgerLedger, error) {
	return openLedger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openLedger(opts badger.Options) (*BadgerLedger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &LedgerError{Op: "open", Err: err}
	}
	return &BadgerLedger{db: db, now: time.Now}, nil
}

// Close closes the BadgerDB.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

func fileKey(id string) []byte {
	return []byte(filePrefix + id)
}

func partKey(fileID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", partPrefix, fileID, index))
}

func partsPrefix(fileID string) []byte {
	return []byte(partPrefix + fileID + ":")
}

// update runs fn in a read-write transaction, replaying it on conflicts.
func (l *BadgerLedger) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = l.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return wrap(op, err)
}

func (l *BadgerLedger) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(op, l.db.View(fn))
}

// wrap turns store failures into LedgerErrors and leaves domain errors alone.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
		return err
	}
	return &LedgerError{Op: op, Err: err}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

// CreateFile stores a new file record. It fails with ErrExists if the id is taken.
func (l *BadgerLedger) CreateFile(ctx context.Context, rec FileRecord) error {
	if rec.ID == "" {
		return errors.New("metadata: file record without id")
	}
	now := l.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return l.update(ctx, "create file", func(txn *badger.Txn) error {
		_, err := txn.Get(fileKey(rec.ID))
		if err == nil {
			return fmt.Errorf("%w: file %s", ErrExists, rec.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, fileKey(rec.ID), rec)
	})
}

// GetFile retrieves a file record by id.
func (l *BadgerLedger) GetFile(ctx context.Context, id string) (FileRecord, error) {
	var rec FileRecord
	err := l.view(ctx, "get file", func(txn *badger.Txn) error {
		if err := getJSON(txn, fileKey(id), &rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: file %s", ErrNotFound, id)
			}
			return err
		}
		return nil
	})
	return rec, err
}

// UpdateFile overwrites an existing file record.
func (l *BadgerLedger) UpdateFile(ctx context.Context, rec FileRecord) error {
	rec.UpdatedAt = l.now()
	return l.update(ctx, "update file", func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(rec.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: file %s", ErrNotFound, rec.ID)
			}
			return err
		}
		return setJSON(txn, fileKey(rec.ID), rec)
	})
}

// ListFiles returns all file records, newest first.
func (l *BadgerLedger) ListFiles(ctx context.Context) ([]FileRecord, error) {
	var files []FileRecord
	err := l.view(ctx, "list files", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(filePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec FileRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			files = append(files, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

// DeleteFile removes a file record and all of its parts.
func (l *BadgerLedger) DeleteFile(ctx context.Context, id string) error {
	return l.update(ctx, "delete file", func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: file %s", ErrNotFound, id)
			}
			return err
		}

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := partsPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(fileKey(id))
	})
}

// PutPart creates or overwrites a part record.
func (l *BadgerLedger) PutPart(ctx context.Context, part PartRecord) error {
	if part.FileID == "" || part.Index < 0 {
		return fmt.Errorf("metadata: invalid part record %q/%d", part.FileID, part.Index)
	}
	part.UpdatedAt = l.now()
	return l.update(ctx, "put part", func(txn *badger.Txn) error {
		return setJSON(txn, partKey(part.FileID, part.Index), part)
	})
}

// GetPart retrieves one part record.
func (l *BadgerLedger) GetPart(ctx context.Context, fileID string, index int) (PartRecord, error) {
	var part PartRecord
	err := l.view(ctx, "get part", func(txn *badger.Txn) error {
		if err := getJSON(txn, partKey(fileID, index), &part); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: part %s/%d", ErrNotFound, fileID, index)
			}
			return err
		}
		return nil
	})
	return part, err
}

// ListParts returns the parts of a file ordered by index. The zero-padded key
// makes badger's key order the index order.
func (l *BadgerLedger) ListParts(ctx context.Context, fileID string) ([]PartRecord, error) {
	var parts []PartRecord
	err := l.view(ctx, "list parts", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := partsPrefix(fileID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var part PartRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &part)
			}); err != nil {
				return err
			}
			parts = append(parts, part)
		}
		return nil
	})
	return parts, err
}

// MarkPartVerified stores ref and the verified status in one transaction.
func (l *BadgerLedger) MarkPartVerified(ctx context.Context, fileID string, index int, ref storage.RemoteRef) error {
	if ref == "" {
		return fmt.Errorf("metadata: part %s/%d verified without remote reference", fileID, index)
	}
	now := l.now()
	return l.update(ctx, "mark part verified", func(txn *badger.Txn) error {
		var part PartRecord
		if err := getJSON(txn, partKey(fileID, index), &part); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: part %s/%d", ErrNotFound, fileID, index)
			}
			return err
		}
		part.RemoteRef = ref
		part.Status = PartVerified
		part.UpdatedAt = now
		return setJSON(txn, partKey(fileID, index), part)
	})
}
