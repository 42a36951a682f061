package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
)

// remoteFile groups the stored objects that claim to hold parts of one file.
// Retried uploads can leave more than one object per part.
type remoteFile struct {
	id         string
	total      int
	candidates map[int][]storage.RemoteRef
}

func (f *remoteFile) missing() []int {
	var missing []int
	for i := 0; i < f.total; i++ {
		if len(f.candidates[i]) == 0 {
			missing = append(missing, i)
		}
	}
	return missing
}

// scanRemote reads every object in the store and groups parts by file.
// Objects that are not part envelopes are skipped.
func (c *Controller) scanRemote(ctx context.Context, lister storage.Lister) (map[string]*remoteFile, error) {
	refs, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	files := make(map[string]*remoteFile)
	jobs := make([]int, len(refs))
	for i := range refs {
		jobs[i] = i
	}

	sched := NewScheduler(c.concurrency, c.retry, nil, c.log)
	err = sched.Run(ctx, jobs, func(ctx context.Context, i int) error {
		raw, err := c.get(ctx, sched, refs[i])
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		env, err := DecodeEnvelope(raw)
		if err == nil && (env.FileID == "" || env.Total == 0) {
			err = fmt.Errorf("%w: envelope without file", ErrBadEnvelope)
		}
		if err != nil {
			c.log.WithField("ref", refs[i]).Debugf("Skipping foreign object: %v", err)
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		f, ok := files[env.FileID]
		if !ok {
			f = &remoteFile{id: env.FileID, total: env.Total, candidates: make(map[int][]storage.RemoteRef)}
			files[env.FileID] = f
		}
		if env.Total != f.total {
			c.log.WithFields(logrus.Fields{
				"file_id": env.FileID,
				"ref":     refs[i],
			}).Warnf("⚠️ Object claims %d parts, expected %d; ignoring it", env.Total, f.total)
			return nil
		}
		f.candidates[env.Index] = append(f.candidates[env.Index], refs[i])
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		for _, refs := range f.candidates {
			sort.Slice(refs, func(a, b int) bool { return refs[a] < refs[b] })
		}
	}
	return files, nil
}

// reconstruct streams the parts of f to w in order and describes what it wrote.
func (c *Controller) reconstruct(ctx context.Context, f *remoteFile, w io.Writer) (metadata.FileRecord, []metadata.PartRecord, error) {
	rec := metadata.FileRecord{
		ID:         f.id,
		Name:       "recovered-" + f.id,
		TotalParts: f.total,
		Status:     metadata.FileComplete,
	}
	if missing := f.missing(); len(missing) > 0 {
		return rec, nil, fmt.Errorf("%w: file %s is missing parts %v", chunker.ErrIncomplete, f.id, missing)
	}

	h := sha256.New()
	out := io.MultiWriter(w, h)
	sched := NewScheduler(1, c.retry, nil, c.log)
	parts := make([]metadata.PartRecord, 0, f.total)

	for i := 0; i < f.total; i++ {
		var (
			data    []byte
			ref     storage.RemoteRef
			lastErr error
		)
		for _, candidate := range f.candidates[i] {
			raw, err := c.get(ctx, sched, candidate)
			if err == nil {
				data, err = c.codec.Decode(raw, f.id, i)
			}
			if err == nil {
				ref = candidate
				break
			}
			lastErr = err
			c.log.WithFields(logrus.Fields{
				"file_id": f.id,
				"index":   i,
				"ref":     candidate,
			}).Warnf("⚠️ Unusable copy of part: %v", err)
		}
		if ref == "" {
			return rec, nil, &PartError{Index: i, Err: lastErr}
		}

		if _, err := out.Write(data); err != nil {
			return rec, nil, fmt.Errorf("failed to write part %d: %w", i, err)
		}
		if i == 0 {
			rec.PartSize = int64(len(data))
		}
		rec.Size += int64(len(data))
		parts = append(parts, metadata.PartRecord{
			FileID:    f.id,
			Index:     i,
			Length:    int64(len(data)),
			Checksum:  chunker.Checksum(data),
			RemoteRef: ref,
			Status:    metadata.PartVerified,
		})
	}
	rec.Checksum = hex.EncodeToString(h.Sum(nil))
	return rec, parts, nil
}

// Recover rebuilds fileID from the objects in the store alone, for when the
// ledger is lost. Every part is checked against the checksum in its envelope;
// there is no whole-file checksum to compare against.
func (c *Controller) Recover(ctx context.Context, lister storage.Lister, w io.Writer, fileID string) (metadata.FileRecord, error) {
	files, err := c.scanRemote(ctx, lister)
	if err != nil {
		return metadata.FileRecord{}, err
	}
	f, ok := files[fileID]
	if !ok {
		return metadata.FileRecord{}, fmt.Errorf("%w: no stored parts for file %s", storage.ErrNotFound, fileID)
	}
	rec, _, err := c.reconstruct(ctx, f, w)
	if err != nil {
		return rec, err
	}
	c.log.WithField("file_id", fileID).Info("✅ File recovered from store")
	return rec, nil
}

// Rebuild recreates ledger records for every complete file found in the
// store that the ledger does not know. It returns the records it created.
func (c *Controller) Rebuild(ctx context.Context, lister storage.Lister) ([]metadata.FileRecord, error) {
	files, err := c.scanRemote(ctx, lister)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var created []metadata.FileRecord
	for _, id := range ids {
		log := c.log.WithField("file_id", id)
		if _, err := c.ledger.GetFile(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, metadata.ErrNotFound) {
			return created, err
		}

		rec, parts, err := c.reconstruct(ctx, files[id], io.Discard)
		if err != nil {
			log.Warnf("⚠️ Cannot rebuild file: %v", err)
			continue
		}
		if err := c.ledger.CreateFile(ctx, rec); err != nil {
			return created, err
		}
		for _, p := range parts {
			if err := c.ledger.PutPart(ctx, p); err != nil {
				return created, err
			}
		}
		log.Infof("✅ Rebuilt ledger entry with %d parts", len(parts))
		created = append(created, rec)
	}
	return created, nil
}
