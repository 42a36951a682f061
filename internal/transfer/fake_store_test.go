package transfer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
)

// fakeStore is an in-memory store with fault injection and call accounting.
type fakeStore struct {
	mu      sync.Mutex
	objects map[storage.RemoteRef][]byte
	seq     int
	// corrupt maps a ref to how many more Gets return damaged bytes; -1 is forever.
	corrupt map[storage.RemoteRef]int

	delay    time.Duration
	putFault func(call int64) error
	getFault func(ref storage.RemoteRef, call int64) error

	puts     atomic.Int64
	gets     atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

var (
	_ storage.Storage = (*fakeStore)(nil)
	_ storage.Lister  = (*fakeStore)(nil)
	_ storage.Deleter = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[storage.RemoteRef][]byte),
		corrupt: make(map[storage.RemoteRef]int),
	}
}

func (s *fakeStore) track(ctx context.Context) (func(), error) {
	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	done := func() { s.inFlight.Add(-1) }
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			done()
			return nil, storage.Transient("call", "", ctx.Err())
		}
	}
	return done, nil
}

func (s *fakeStore) Put(ctx context.Context, data []byte) (storage.RemoteRef, error) {
	call := s.puts.Add(1)
	done, err := s.track(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	if s.putFault != nil {
		if err := s.putFault(call); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ref := storage.RemoteRef(fmt.Sprintf("obj-%06d", s.seq))
	s.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *fakeStore) Get(ctx context.Context, ref storage.RemoteRef) ([]byte, error) {
	call := s.gets.Add(1)
	done, err := s.track(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if s.getFault != nil {
		if err := s.getFault(ref, call); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, storage.Fatal("get", ref, storage.ErrNotFound)
	}
	out := append([]byte(nil), data...)
	if n := s.corrupt[ref]; n != 0 {
		out[len(out)-1] ^= 0xff
		if n > 0 {
			s.corrupt[ref] = n - 1
		}
	}
	return out, nil
}

func (s *fakeStore) List(ctx context.Context) ([]storage.RemoteRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]storage.RemoteRef, 0, len(s.objects))
	for ref := range s.objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

func (s *fakeStore) Delete(ctx context.Context, ref storage.RemoteRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[ref]; !ok {
		return storage.Fatal("delete", ref, storage.ErrNotFound)
	}
	delete(s.objects, ref)
	return nil
}

// hookedStore runs before on every Put, with the caller's context, ahead of
// the underlying fake store.
type hookedStore struct {
	*fakeStore
	calls  atomic.Int64
	before func(ctx context.Context, call int64) error
}

func (s *hookedStore) Put(ctx context.Context, data []byte) (storage.RemoteRef, error) {
	if err := s.before(ctx, s.calls.Add(1)); err != nil {
		return "", err
	}
	return s.fakeStore.Put(ctx, data)
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeStore) corruptForever(ref storage.RemoteRef) {
	s.setCorrupt(ref, -1)
}

func (s *fakeStore) setCorrupt(ref storage.RemoteRef, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[ref] = times
}

func (s *fakeStore) resetCounters() {
	s.puts.Store(0)
	s.gets.Store(0)
	s.peak.Store(0)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

// brokenLedger fails the failAt-th PutPart call.
type brokenLedger struct {
	metadata.Ledger
	failAt int64
	puts   atomic.Int64
}

func (l *brokenLedger) PutPart(ctx context.Context, part metadata.PartRecord) error {
	if l.puts.Add(1) == l.failAt {
		return &metadata.LedgerError{Op: "put part", Err: errors.New("disk full")}
	}
	return l.Ledger.PutPart(ctx, part)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newLedger(t *testing.T) *metadata.BadgerLedger {
	t.Helper()
	ledger, err := metadata.OpenInMemoryLedger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func newTestController(t *testing.T, ledger metadata.Ledger, store storage.Storage, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithPartSize(64),
		WithConcurrency(3),
		WithRetry(fastRetry()),
		WithLogger(quietLogger()),
	}
	return NewController(ledger, store, append(base, opts...)...)
}

func writeRandomFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), fmt.Sprintf("source-%d.bin", size))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

// refOf returns the stored reference of one part.
func refOf(t *testing.T, ledger metadata.Ledger, fileID string, index int) storage.RemoteRef {
	t.Helper()
	part, err := ledger.GetPart(context.Background(), fileID, index)
	require.NoError(t, err)
	require.NotEmpty(t, part.RemoteRef)
	return part.RemoteRef
}
