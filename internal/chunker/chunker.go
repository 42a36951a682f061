package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidPartSize is returned when the maximum part size is below one byte.
var ErrInvalidPartSize = errors.New("chunker: part size must be at least 1 byte")

// Part is one bounded-size slice of a file.
type Part struct {
	Index    int
	Data     []byte
	Checksum string
}

// Len returns the byte length of the part.
func (p Part) Len() int64 {
	return int64(len(p.Data))
}

// IoReadError reports that the local source could not be read. It is never retried.
type IoReadError struct {
	Index int
	Err   error
}

func (e *IoReadError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("failed to read source: %v", e.Err)
	}
	return fmt.Sprintf("failed to read part %d: %v", e.Index, e.Err)
}

func (e *IoReadError) Unwrap() error {
	return e.Err
}

// Chunker turns a byte source into an ordered sequence of parts. Splitting is a
// pure function of (source, partSize), so ReadPart can produce any part again
// without restarting the sequence.
type Chunker struct {
	src      io.Reader
	partSize int64
	index    int
	done     bool
}

// New returns a Chunker reading from src.
func New(src io.Reader, partSize int64) (*Chunker, error) {
	if partSize < 1 {
		return nil, ErrInvalidPartSize
	}
	return &Chunker{src: src, partSize: partSize}, nil
}

// Next returns the next part, or io.EOF once the source is exhausted.
func (c *Chunker) Next() (Part, error) {
	if c.done {
		return Part{}, io.EOF
	}

	var buf bytes.Buffer
	n, err := io.CopyN(&buf, c.src, c.partSize)
	if err != nil && err != io.EOF {
		return Part{}, &IoReadError{Index: c.index, Err: err}
	}
	if n < c.partSize {
		c.done = true
	}
	if n == 0 {
		return Part{}, io.EOF
	}

	data := buf.Bytes()
	part := Part{
		Index:    c.index,
		Data:     data,
		Checksum: Checksum(data),
	}
	c.index++
	return part, nil
}

// ReadPart reads part index directly from a random-access source of the given size.
// The result is identical to the part Next would produce for that index.
func ReadPart(src io.ReaderAt, index int, partSize, size int64) (Part, error) {
	if partSize < 1 {
		return Part{}, ErrInvalidPartSize
	}
	offset := int64(index) * partSize
	if index < 0 || offset >= size {
		return Part{}, fmt.Errorf("chunker: part %d out of range for %d bytes", index, size)
	}
	length := partSize
	if remaining := size - offset; remaining < length {
		length = remaining
	}

	data := make([]byte, length)
	n, err := src.ReadAt(data, offset)
	if int64(n) != length {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Part{}, &IoReadError{Index: index, Err: err}
	}

	return Part{Index: index, Data: data, Checksum: Checksum(data)}, nil
}

// PartCount returns how many parts a source of size bytes splits into.
func PartCount(size, partSize int64) int {
	if size <= 0 || partSize < 1 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

// Checksum returns the hex encoded SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader returns the hex encoded SHA-256 and byte count of everything in r.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, &IoReadError{Index: -1, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Layout describes how a source splits into parts.
type Layout struct {
	Size     int64
	Checksum string
	Parts    []Expectation
}

// Scan reads src once and returns its size, whole-file checksum and the
// length and checksum of every part.
func Scan(src io.Reader, partSize int64) (Layout, error) {
	var layout Layout
	c, err := New(src, partSize)
	if err != nil {
		return layout, err
	}

	h := sha256.New()
	for {
		part, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return layout, err
		}
		h.Write(part.Data)
		layout.Size += part.Len()
		layout.Parts = append(layout.Parts, Expectation{Length: part.Len(), Checksum: part.Checksum})
	}
	layout.Checksum = hex.EncodeToString(h.Sum(nil))
	return layout, nil
}
