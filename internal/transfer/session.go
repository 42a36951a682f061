package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/compressor"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
	"github.com/jaywantadh/msgvault/pkg/logging"
)

const (
	DefaultPartSize    int64 = 512 << 20
	DefaultConcurrency       = 4
)

// Controller runs upload and download sessions against one ledger and one
// store. At most one session runs per file.
type Controller struct {
	ledger        metadata.Ledger
	store         storage.Storage
	concurrency   int
	partSize      int64
	retry         RetryPolicy
	codec         Codec
	verifyUploads bool
	progress      chan<- Event
	log           logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithConcurrency bounds the number of parts in flight per session.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPartSize sets the maximum part size for new uploads. Resumed uploads
// keep the size they were started with.
func WithPartSize(size int64) Option {
	return func(c *Controller) {
		if size > 0 {
			c.partSize = size
		}
	}
}

// WithRetry sets the retry policy for storage calls.
func WithRetry(p RetryPolicy) Option {
	return func(c *Controller) {
		c.retry = p
	}
}

// WithCodec sets how parts are compressed and sealed before storage.
func WithCodec(codec Codec) Option {
	return func(c *Controller) {
		c.codec = codec
	}
}

// WithProgress delivers session events to ch.
func WithProgress(ch chan<- Event) Option {
	return func(c *Controller) {
		c.progress = ch
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithVerifyUploads reads every stored part back before marking it verified.
func WithVerifyUploads(enabled bool) Option {
	return func(c *Controller) {
		c.verifyUploads = enabled
	}
}

// NewController creates a controller.
func NewController(ledger metadata.Ledger, store storage.Storage, opts ...Option) *Controller {
	c := &Controller{
		ledger:      ledger,
		store:       store,
		concurrency: DefaultConcurrency,
		partSize:    DefaultPartSize,
		retry:       DefaultRetryPolicy(),
		log:         logging.Logger(),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is the in-memory state of one running transfer.
type Session struct {
	FileID      string
	Name        string
	Direction   Direction
	Concurrency int

	stop     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	cancelled  bool
	inFlight   map[int]struct{}
	partsDone  int
	bytesDone  int64
	partsTotal int
	bytesTotal int64
	advanced   chan struct{}
}

func newSession(rec metadata.FileRecord, dir Direction, concurrency int) *Session {
	return &Session{
		FileID:      rec.ID,
		Name:        rec.Name,
		Direction:   dir,
		Concurrency: concurrency,
		stop:        make(chan struct{}),
		inFlight:    make(map[int]struct{}),
		partsTotal:  rec.TotalParts,
		bytesTotal:  rec.Size,
		advanced:    make(chan struct{}),
	}
}

func (s *Session) cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

// Cancelled reports whether Cancel was called for this session.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Session) start(index int) {
	s.mu.Lock()
	s.inFlight[index] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) finish(index int, length int64, ok bool) {
	s.mu.Lock()
	delete(s.inFlight, index)
	if ok {
		s.partsDone++
		s.bytesDone += length
	}
	s.mu.Unlock()
}

func (s *Session) event(status metadata.FileStatus, err error) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Event{
		FileID:     s.FileID,
		Name:       s.Name,
		Direction:  s.Direction,
		BytesDone:  s.bytesDone,
		BytesTotal: s.bytesTotal,
		PartsDone:  s.partsDone,
		PartsTotal: s.partsTotal,
		InFlight:   len(s.inFlight),
		Status:     status,
		Err:        err,
	}
}

func (c *Controller) begin(rec metadata.FileRecord, dir Direction) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[rec.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, rec.ID)
	}
	s := newSession(rec, dir, c.concurrency)
	c.sessions[rec.ID] = s
	return s, nil
}

func (c *Controller) end(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[s.FileID] == s {
		delete(c.sessions, s.FileID)
	}
}

// Session returns the running session for fileID, if any.
func (c *Controller) Session(fileID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[fileID]
	return s, ok
}

// Cancel stops the session running for fileID. Parts already in flight are
// abandoned and their results discarded.
func (c *Controller) Cancel(fileID string) error {
	s, ok := c.Session(fileID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, fileID)
	}
	c.log.WithField("file_id", fileID).Info("🛑 Cancelling transfer")
	s.cancel()
	return nil
}

// List returns every file in the ledger, newest first.
func (c *Controller) List(ctx context.Context) ([]metadata.FileRecord, error) {
	return c.ledger.ListFiles(ctx)
}

// Status returns a file record and its parts.
func (c *Controller) Status(ctx context.Context, fileID string) (metadata.FileRecord, []metadata.PartRecord, error) {
	rec, err := c.ledger.GetFile(ctx, fileID)
	if err != nil {
		return rec, nil, err
	}
	parts, err := c.ledger.ListParts(ctx, fileID)
	return rec, parts, err
}

// Upload splits the file at path into parts and stores each of them.
func (c *Controller) Upload(ctx context.Context, path string) (metadata.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return metadata.FileRecord{}, early(&chunker.IoReadError{Index: -1, Err: err})
	}
	defer f.Close()

	layout, err := chunker.Scan(f, c.partSize)
	if err != nil {
		return metadata.FileRecord{}, early(err)
	}

	rec := metadata.FileRecord{
		ID:         uuid.NewString(),
		Name:       filepath.Base(path),
		Size:       layout.Size,
		TotalParts: len(layout.Parts),
		PartSize:   c.partSize,
		Checksum:   layout.Checksum,
		Status:     metadata.FilePending,
	}
	if err := c.ledger.CreateFile(ctx, rec); err != nil {
		return rec, early(err)
	}
	for i, p := range layout.Parts {
		part := metadata.PartRecord{
			FileID:   rec.ID,
			Index:    i,
			Length:   p.Length,
			Checksum: p.Checksum,
			Status:   metadata.PartPending,
		}
		if err := c.ledger.PutPart(ctx, part); err != nil {
			c.abandon(ctx, &rec, err)
			return rec, early(err)
		}
	}

	c.log.WithFields(logrus.Fields{
		"file_id": rec.ID,
		"name":    rec.Name,
		"parts":   rec.TotalParts,
	}).Info("📤 Upload started")

	sess, err := c.begin(rec, DirectionUpload)
	if err != nil {
		return rec, early(err)
	}
	defer c.end(sess)
	return c.runUpload(ctx, sess, rec, f)
}

// Resume continues an interrupted upload from the same source file. Parts
// already verified are not sent again.
func (c *Controller) Resume(ctx context.Context, fileID, path string) (metadata.FileRecord, error) {
	rec, err := c.ledger.GetFile(ctx, fileID)
	if err != nil {
		return rec, early(err)
	}

	sess, err := c.begin(rec, DirectionUpload)
	if err != nil {
		return rec, early(err)
	}
	defer c.end(sess)

	f, err := os.Open(path)
	if err != nil {
		return rec, early(&chunker.IoReadError{Index: -1, Err: err})
	}
	defer f.Close()

	sum, size, err := chunker.HashReader(f)
	if err != nil {
		return rec, early(err)
	}
	if sum != rec.Checksum || size != rec.Size {
		return rec, early(fmt.Errorf("%w: %s", ErrSourceChanged, path))
	}

	if err := c.restoreParts(ctx, rec, f); err != nil {
		return rec, early(err)
	}

	c.log.WithField("file_id", rec.ID).Info("🔁 Resuming upload")
	return c.runUpload(ctx, sess, rec, f)
}

// restoreParts recreates part records missing from the ledger.
func (c *Controller) restoreParts(ctx context.Context, rec metadata.FileRecord, src io.ReaderAt) error {
	parts, err := c.ledger.ListParts(ctx, rec.ID)
	if err != nil {
		return err
	}
	have := make(map[int]bool, len(parts))
	for _, p := range parts {
		have[p.Index] = true
	}
	for i := 0; i < rec.TotalParts; i++ {
		if have[i] {
			continue
		}
		part, err := chunker.ReadPart(src, i, rec.PartSize, rec.Size)
		if err != nil {
			return err
		}
		err = c.ledger.PutPart(ctx, metadata.PartRecord{
			FileID:   rec.ID,
			Index:    i,
			Length:   part.Len(),
			Checksum: part.Checksum,
			Status:   metadata.PartPending,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runUpload(ctx context.Context, sess *Session, rec metadata.FileRecord, src io.ReaderAt) (metadata.FileRecord, error) {
	if rec.Status != metadata.FileInProgress || rec.Error != "" {
		rec.Status = metadata.FileInProgress
		rec.Error = ""
		if err := c.ledger.UpdateFile(ctx, rec); err != nil {
			return rec, early(err)
		}
	}

	parts, err := c.ledger.ListParts(ctx, rec.ID)
	if err != nil {
		return c.finishUpload(ctx, sess, rec, err)
	}

	byIndex := make(map[int]metadata.PartRecord, len(parts))
	var todo []int
	for _, p := range parts {
		byIndex[p.Index] = p
		if p.Status == metadata.PartVerified {
			sess.finish(p.Index, p.Length, true)
			continue
		}
		todo = append(todo, p.Index)
	}
	emit(ctx, c.progress, sess.event(metadata.FileInProgress, nil))

	sched := NewScheduler(c.concurrency, c.retry, sess.stop, c.log)
	err = sched.Run(ctx, todo, func(ctx context.Context, index int) error {
		return c.uploadPart(ctx, sess, sched, rec, src, byIndex[index])
	})
	c.log.WithFields(logrus.Fields{
		"file_id":        rec.ID,
		"parts":          len(todo),
		"peak_in_flight": sched.PeakInFlight(),
	}).Debug("Upload dispatch finished")
	return c.finishUpload(ctx, sess, rec, err)
}

func (c *Controller) uploadPart(ctx context.Context, sess *Session, sched *Scheduler, rec metadata.FileRecord, src io.ReaderAt, want metadata.PartRecord) error {
	log := c.log.WithFields(logrus.Fields{"file_id": rec.ID, "index": want.Index})
	sess.start(want.Index)

	part, err := chunker.ReadPart(src, want.Index, rec.PartSize, rec.Size)
	if err != nil {
		sess.finish(want.Index, 0, false)
		return err
	}
	if part.Checksum != want.Checksum || part.Len() != want.Length {
		sess.finish(want.Index, 0, false)
		return &PartError{Index: want.Index, Err: ErrSourceChanged}
	}
	obj, err := c.codecFor(rec.Name).Encode(rec.ID, want.Index, rec.TotalParts, part.Data)
	if err != nil {
		sess.finish(want.Index, 0, false)
		return &PartError{Index: want.Index, Err: err}
	}

	ref, attempts, err := c.put(ctx, sched, obj)
	if err == nil && c.verifyUploads {
		err = c.readBack(ctx, sched, rec.ID, want, ref, obj)
	}
	if sess.Cancelled() {
		sess.finish(want.Index, 0, false)
		return ErrCancelled
	}
	if err != nil {
		sess.finish(want.Index, 0, false)
		// A sibling failed or the caller gave up; this part did not fail on its own.
		if ctx.Err() != nil {
			return err
		}
		want.Attempts += attempts
		want.Status = metadata.PartFailed
		if perr := c.ledger.PutPart(context.WithoutCancel(ctx), want); perr != nil {
			log.Errorf("❌ Failed to record part failure: %v", perr)
		}
		return &PartError{Index: want.Index, Err: err}
	}

	if err := c.ledger.MarkPartVerified(ctx, rec.ID, want.Index, ref); err != nil {
		sess.finish(want.Index, 0, false)
		return err
	}
	sess.finish(want.Index, want.Length, true)
	log.WithField("ref", ref).Debug("Part stored")
	emit(ctx, c.progress, sess.event(metadata.FileInProgress, nil))
	return nil
}

// codecFor leaves already-compressed formats uncompressed.
func (c *Controller) codecFor(name string) Codec {
	codec := c.codec
	if compressor.ShouldSkipCompression(name) {
		codec.Compression = compressor.None
	}
	return codec
}

func (c *Controller) put(ctx context.Context, sched *Scheduler, obj []byte) (storage.RemoteRef, int, error) {
	var (
		ref      storage.RemoteRef
		attempts int
	)
	err := sched.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		r, err := c.store.Put(ctx, obj)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	return ref, attempts, err
}

// readBack records the part as uploaded and confirms the store returns what was sent.
func (c *Controller) readBack(ctx context.Context, sched *Scheduler, fileID string, want metadata.PartRecord, ref storage.RemoteRef, obj []byte) error {
	want.RemoteRef = ref
	want.Status = metadata.PartUploaded
	if err := c.ledger.PutPart(ctx, want); err != nil {
		return err
	}
	got, err := c.get(ctx, sched, ref)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, obj) {
		return &chunker.IntegrityError{Index: want.Index, Err: fmt.Errorf("read back of %s differs from upload", ref)}
	}
	return nil
}

func (c *Controller) finishUpload(ctx context.Context, sess *Session, rec metadata.FileRecord, runErr error) (metadata.FileRecord, error) {
	log := c.log.WithField("file_id", rec.ID)

	switch {
	case runErr == nil:
		rec.Status = metadata.FileComplete
		rec.Error = ""
	case sess.Cancelled() || errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		rec.Status = metadata.FileCancelled
		rec.Error = ""
		if sess.Cancelled() {
			runErr = ErrCancelled
		}
	default:
		rec.Status = metadata.FileFailed
		rec.Error = runErr.Error()
	}

	if err := c.ledger.UpdateFile(context.WithoutCancel(ctx), rec); err != nil {
		log.Errorf("❌ Failed to record upload status %s: %v", rec.Status, err)
		if runErr == nil {
			runErr = err
		}
	}

	switch rec.Status {
	case metadata.FileComplete:
		log.Info("✅ Upload complete")
	case metadata.FileCancelled:
		log.Warn("⚠️ Upload cancelled")
	default:
		log.Errorf("❌ Upload failed: %v", runErr)
	}
	emit(ctx, c.progress, sess.event(rec.Status, runErr))
	return rec, runErr
}

func (c *Controller) get(ctx context.Context, sched *Scheduler, ref storage.RemoteRef) ([]byte, error) {
	var data []byte
	err := sched.Do(ctx, func(ctx context.Context, attempt int) error {
		d, err := c.store.Get(ctx, ref)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	return data, err
}

// fetch gets, decodes and verifies one part.
func (c *Controller) fetch(ctx context.Context, sched *Scheduler, part metadata.PartRecord) ([]byte, error) {
	raw, err := c.get(ctx, sched, part.RemoteRef)
	if err != nil {
		return nil, err
	}
	data, err := c.codec.Decode(raw, part.FileID, part.Index)
	if err != nil {
		return nil, err
	}
	want := chunker.Expectation{Length: part.Length, Checksum: part.Checksum}
	if err := chunker.VerifyPart(part.Index, data, want); err != nil {
		return nil, err
	}
	return data, nil
}

// fetchOnceMore fetches a part and, if it fails verification, fetches it one
// more time before giving up.
func (c *Controller) fetchOnceMore(ctx context.Context, sched *Scheduler, part metadata.PartRecord) ([]byte, error) {
	data, err := c.fetch(ctx, sched, part)
	var integrity *chunker.IntegrityError
	if err == nil || !errors.As(err, &integrity) {
		return data, err
	}
	c.log.WithFields(logrus.Fields{
		"file_id": part.FileID,
		"index":   part.Index,
	}).Warnf("⚠️ Part failed verification, fetching again: %v", err)
	return c.fetch(ctx, sched, part)
}

// Refetch fetches and verifies a single part.
func (c *Controller) Refetch(ctx context.Context, fileID string, index int) ([]byte, error) {
	part, err := c.ledger.GetPart(ctx, fileID, index)
	if err != nil {
		return nil, err
	}
	if part.RemoteRef == "" {
		return nil, fmt.Errorf("%w: part %d of %s was never stored", ErrNotDownloadable, index, fileID)
	}
	sched := NewScheduler(1, c.retry, nil, c.log)
	return c.fetch(ctx, sched, part)
}

// Download writes the file to w, verifying every part and the whole file.
func (c *Controller) Download(ctx context.Context, fileID string, w io.Writer) error {
	rec, err := c.ledger.GetFile(ctx, fileID)
	if err != nil {
		return early(err)
	}
	if rec.Status != metadata.FileComplete && rec.Status != metadata.FileFailed {
		return early(fmt.Errorf("%w: %s is %s", ErrNotDownloadable, fileID, rec.Status))
	}
	parts, err := c.ledger.ListParts(ctx, fileID)
	if err != nil {
		return early(err)
	}
	if len(parts) != rec.TotalParts {
		return early(fmt.Errorf("%w: ledger has %d of %d parts", ErrNotDownloadable, len(parts), rec.TotalParts))
	}
	expected := make([]chunker.Expectation, len(parts))
	jobs := make([]int, len(parts))
	for i, p := range parts {
		if p.Index != i || p.RemoteRef == "" {
			return early(fmt.Errorf("%w: part %d has no stored object", ErrNotDownloadable, i))
		}
		expected[i] = chunker.Expectation{Length: p.Length, Checksum: p.Checksum}
		jobs[i] = i
	}

	sess, err := c.begin(rec, DirectionDownload)
	if err != nil {
		return early(err)
	}
	defer c.end(sess)

	c.log.WithFields(logrus.Fields{
		"file_id": rec.ID,
		"name":    rec.Name,
		"parts":   rec.TotalParts,
	}).Info("📥 Download started")
	emit(ctx, c.progress, sess.event(metadata.FileInProgress, nil))

	re := chunker.NewReassembler(w, expected)
	closed := false

	// A part may start only while it lies within Concurrency of the next
	// part to be written, so buffered plus in-flight parts never exceed it.
	gate := func(ctx context.Context, index int) error {
		for {
			sess.mu.Lock()
			next := re.Next()
			advanced := sess.advanced
			sess.mu.Unlock()
			if index < next+c.concurrency {
				return nil
			}
			select {
			case <-advanced:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	sched := NewScheduler(c.concurrency, c.retry, sess.stop, c.log)
	runErr := sched.Run(ctx, jobs, func(ctx context.Context, index int) error {
		sess.start(index)
		data, err := c.fetchOnceMore(ctx, sched, parts[index])
		if err != nil {
			sess.finish(index, 0, false)
			var integrity *chunker.IntegrityError
			if ctx.Err() == nil && !sess.Cancelled() && (errors.As(err, &integrity) || storage.IsFatal(err)) {
				c.markPartFailed(ctx, parts[index])
			}
			return &PartError{Index: index, Err: err}
		}

		sess.mu.Lock()
		if closed || sess.cancelled {
			sess.mu.Unlock()
			sess.finish(index, 0, false)
			return ErrCancelled
		}
		before := re.Next()
		err = re.Accept(index, data)
		if re.Next() != before {
			close(sess.advanced)
			sess.advanced = make(chan struct{})
		}
		buffered := re.Buffered()
		sess.mu.Unlock()
		if err != nil {
			sess.finish(index, 0, false)
			return &PartError{Index: index, Err: err}
		}

		if p := parts[index]; p.Status != metadata.PartVerified {
			if err := c.ledger.MarkPartVerified(ctx, p.FileID, p.Index, p.RemoteRef); err != nil {
				sess.finish(index, 0, false)
				return err
			}
		}
		sess.finish(index, int64(len(data)), true)
		c.log.WithFields(logrus.Fields{
			"file_id":  rec.ID,
			"index":    index,
			"buffered": buffered,
		}).Debug("Part accepted")
		emit(ctx, c.progress, sess.event(metadata.FileInProgress, nil))
		return nil
	}, WithGate(gate))
	c.log.WithFields(logrus.Fields{
		"file_id":        rec.ID,
		"peak_in_flight": sched.PeakInFlight(),
	}).Debug("Download dispatch finished")

	sess.mu.Lock()
	closed = true
	sess.mu.Unlock()

	if runErr == nil {
		runErr = re.Close(rec.Checksum, rec.Size)
	}
	return c.finishDownload(ctx, sess, rec, runErr)
}

func (c *Controller) markPartFailed(ctx context.Context, part metadata.PartRecord) {
	part.Status = metadata.PartFailed
	if err := c.ledger.PutPart(context.WithoutCancel(ctx), part); err != nil {
		c.log.WithFields(logrus.Fields{
			"file_id": part.FileID,
			"index":   part.Index,
		}).Errorf("❌ Failed to record part failure: %v", err)
	}
}

func (c *Controller) finishDownload(ctx context.Context, sess *Session, rec metadata.FileRecord, runErr error) error {
	log := c.log.WithField("file_id", rec.ID)
	pctx := context.WithoutCancel(ctx)

	status := metadata.FileComplete
	switch {
	case runErr == nil:
		if rec.Status != metadata.FileComplete {
			rec.Status = metadata.FileComplete
			rec.Error = ""
			if err := c.ledger.UpdateFile(pctx, rec); err != nil {
				log.Errorf("❌ Failed to record download status: %v", err)
			}
		}
		log.Info("✅ Download complete")
	case sess.Cancelled() || errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		status = metadata.FileCancelled
		if sess.Cancelled() {
			runErr = ErrCancelled
		}
		log.Warn("⚠️ Download cancelled")
	default:
		status = metadata.FileFailed
		rec.Status = metadata.FileFailed
		rec.Error = runErr.Error()
		if err := c.ledger.UpdateFile(pctx, rec); err != nil {
			log.Errorf("❌ Failed to record download status: %v", err)
		}
		log.Errorf("❌ Download failed: %v", runErr)
	}
	emit(ctx, c.progress, sess.event(status, runErr))
	return runErr
}

// DownloadTo downloads into path, writing to a temporary file that is renamed
// into place only after full verification.
func (c *Controller) DownloadTo(ctx context.Context, fileID, path string) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return early(err)
	}
	err = c.Download(ctx, fileID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Verify downloads the file without keeping it, checking every part and the
// whole-file checksum.
func (c *Controller) Verify(ctx context.Context, fileID string) error {
	return c.Download(ctx, fileID, io.Discard)
}

// Delete removes a file from the ledger and, when the store supports it, its
// stored parts.
func (c *Controller) Delete(ctx context.Context, fileID string) error {
	rec, err := c.ledger.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	sess, err := c.begin(rec, DirectionUpload)
	if err != nil {
		return err
	}
	defer c.end(sess)

	parts, err := c.ledger.ListParts(ctx, fileID)
	if err != nil {
		return err
	}
	if deleter, ok := c.store.(storage.Deleter); ok {
		for _, p := range parts {
			if p.RemoteRef == "" {
				continue
			}
			err := deleter.Delete(ctx, p.RemoteRef)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("failed to delete part %d: %w", p.Index, err)
			}
		}
	}
	if err := c.ledger.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	c.log.WithField("file_id", fileID).Info("🗑️ File deleted")
	return nil
}

// abandon marks a file whose parts could not all be registered as failed,
// so it does not linger as pending. The original error is what the caller sees.
func (c *Controller) abandon(ctx context.Context, rec *metadata.FileRecord, cause error) {
	rec.Status = metadata.FileFailed
	rec.Error = cause.Error()
	if err := c.ledger.UpdateFile(context.WithoutCancel(ctx), *rec); err != nil {
		c.log.WithField("file_id", rec.ID).Errorf("❌ Failed to record upload status %s: %v", rec.Status, err)
	}
}

// setupError marks a failure that happened before a session started, so no
// final event was sent for it.
type setupError struct {
	err error
}

func early(err error) error {
	if err == nil {
		return nil
	}
	return &setupError{err: err}
}

func (e *setupError) Error() string {
	return e.err.Error()
}

func (e *setupError) Unwrap() error {
	return e.err
}
