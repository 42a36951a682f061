package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

var (
	// ErrDuplicatePart is returned when a part index is accepted twice.
	ErrDuplicatePart = errors.New("chunker: part already accepted")
	// ErrIncomplete is returned by Close when parts are still missing.
	ErrIncomplete = errors.New("chunker: reassembly incomplete")
)

// IntegrityError reports a checksum mismatch. Index is -1 for the whole file.
type IntegrityError struct {
	Index    int
	Expected string
	Actual   string
	Err      error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil && e.Index < 0 {
		return fmt.Sprintf("integrity check failed for file: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("integrity check failed for part %d: %v", e.Index, e.Err)
	}
	if e.Index < 0 {
		return fmt.Sprintf("file checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("hash mismatch for part %d: expected %s, got %s", e.Index, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Expectation is what the ledger recorded for a part.
type Expectation struct {
	Length   int64
	Checksum string
}

// Reassembler writes verified parts to an output in strictly ascending index
// order, buffering parts that arrive early.
type Reassembler struct {
	out      io.Writer
	hash     hash.Hash
	expected []Expectation
	pending  map[int][]byte
	next     int
	written  int64
}

// NewReassembler returns a Reassembler expecting len(expected) parts.
func NewReassembler(w io.Writer, expected []Expectation) *Reassembler {
	h := sha256.New()
	return &Reassembler{
		out:      io.MultiWriter(w, h),
		hash:     h,
		expected: expected,
		pending:  make(map[int][]byte),
	}
}

// Verify checks data against the recorded checksum of part index without accepting it.
func (r *Reassembler) Verify(index int, data []byte) error {
	if index < 0 || index >= len(r.expected) {
		return fmt.Errorf("chunker: part %d out of range [0,%d)", index, len(r.expected))
	}
	return VerifyPart(index, data, r.expected[index])
}

// VerifyPart compares data with an expectation.
func VerifyPart(index int, data []byte, want Expectation) error {
	if got := Checksum(data); got != want.Checksum {
		return &IntegrityError{Index: index, Expected: want.Checksum, Actual: got}
	}
	if int64(len(data)) != want.Length {
		return &IntegrityError{Index: index, Err: fmt.Errorf("length %d, recorded %d", len(data), want.Length)}
	}
	return nil
}

// Accept verifies a part and writes every contiguous part that is now available.
func (r *Reassembler) Accept(index int, data []byte) error {
	if err := r.Verify(index, data); err != nil {
		return err
	}
	if _, ok := r.pending[index]; ok || index < r.next {
		return fmt.Errorf("%w: %d", ErrDuplicatePart, index)
	}
	r.pending[index] = data

	for {
		chunk, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		delete(r.pending, r.next)
		if _, err := r.out.Write(chunk); err != nil {
			return fmt.Errorf("failed to write part %d: %w", r.next, err)
		}
		r.written += int64(len(chunk))
		r.next++
	}
}

// Next returns the index of the next part to be written.
func (r *Reassembler) Next() int {
	return r.next
}

// Buffered returns how many verified parts are waiting for an earlier index.
func (r *Reassembler) Buffered() int {
	return len(r.pending)
}

// Close checks that every part was written and that the whole output matches
// the recorded size and checksum.
func (r *Reassembler) Close(fileChecksum string, size int64) error {
	if r.next != len(r.expected) {
		return fmt.Errorf("%w: wrote %d of %d parts", ErrIncomplete, r.next, len(r.expected))
	}
	actual := hex.EncodeToString(r.hash.Sum(nil))
	if actual != fileChecksum {
		return &IntegrityError{Index: -1, Expected: fileChecksum, Actual: actual}
	}
	if r.written != size {
		return &IntegrityError{Index: -1, Err: fmt.Errorf("wrote %d bytes, recorded %d", r.written, size)}
	}
	return nil
}
