package chunker

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func collect(t *testing.T, data []byte, partSize int64) []Part {
	t.Helper()
	c, err := New(bytes.NewReader(data), partSize)
	require.NoError(t, err)

	var parts []Part
	for {
		p, err := c.Next()
		if err == io.EOF {
			return parts
		}
		require.NoError(t, err)
		parts = append(parts, p)
	}
}

func TestChunkBoundaries(t *testing.T) {
	const size = 64

	parts := collect(t, randomBytes(t, size), size)
	require.Len(t, parts, 1)
	require.EqualValues(t, size, parts[0].Len())

	parts = collect(t, randomBytes(t, size+1), size)
	require.Len(t, parts, 2)
	require.EqualValues(t, size, parts[0].Len())
	require.EqualValues(t, 1, parts[1].Len())

	parts = collect(t, nil, size)
	require.Empty(t, parts)
	require.Equal(t, 0, PartCount(0, size))
}

func TestChunkNeverEmptyAndBounded(t *testing.T) {
	data := randomBytes(t, 1000)
	for _, size := range []int64{1, 3, 7, 999, 1000, 1001, 4096} {
		parts := collect(t, data, size)
		require.Len(t, parts, PartCount(int64(len(data)), size), "part size %d", size)

		var joined []byte
		for i, p := range parts {
			require.Equal(t, i, p.Index)
			require.NotZero(t, p.Len())
			require.LessOrEqual(t, p.Len(), size)
			require.Equal(t, Checksum(p.Data), p.Checksum)
			joined = append(joined, p.Data...)
		}
		require.Equal(t, data, joined)
	}
}

func TestChunkDeterministic(t *testing.T) {
	data := randomBytes(t, 777)
	first := collect(t, data, 100)
	second := collect(t, data, 100)
	require.Equal(t, first, second)
}

func TestReadPartMatchesIteration(t *testing.T) {
	data := randomBytes(t, 1025)
	want := collect(t, data, 256)
	src := bytes.NewReader(data)

	for i := len(want) - 1; i >= 0; i-- {
		p, err := ReadPart(src, i, 256, int64(len(data)))
		require.NoError(t, err)
		require.Equal(t, want[i], p)
	}

	_, err := ReadPart(src, len(want), 256, int64(len(data)))
	require.Error(t, err)
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("disk on fire")
	}
	n := len(p)
	if n > r.after {
		n = r.after
	}
	r.after -= n
	return n, nil
}

func TestReadErrorIsIoReadError(t *testing.T) {
	c, err := New(&failingReader{after: 10}, 8)
	require.NoError(t, err)

	_, err = c.Next()
	require.NoError(t, err)

	_, err = c.Next()
	var ioErr *IoReadError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, 1, ioErr.Index)
}

func TestInvalidPartSize(t *testing.T) {
	_, err := New(bytes.NewReader(nil), 0)
	require.ErrorIs(t, err, ErrInvalidPartSize)
}

func TestHashReader(t *testing.T) {
	data := randomBytes(t, 300)

	sum, n, err := HashReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, 300, n)
	require.Equal(t, Checksum(data), sum)

	_, _, err = HashReader(&failingReader{after: 10})
	var ioErr *IoReadError
	require.ErrorAs(t, err, &ioErr)
}

func TestScan(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 25)
	layout, err := Scan(bytes.NewReader(data), 100)
	require.NoError(t, err)
	require.Equal(t, int64(250), layout.Size)
	require.Equal(t, Checksum(data), layout.Checksum)
	require.Len(t, layout.Parts, 3)
	require.Equal(t, int64(50), layout.Parts[2].Length)
	require.Equal(t, Checksum(data[100:200]), layout.Parts[1].Checksum)

	empty, err := Scan(bytes.NewReader(nil), 100)
	require.NoError(t, err)
	require.Empty(t, empty.Parts)
	require.Equal(t, Checksum(nil), empty.Checksum)

	_, err = Scan(bytes.NewReader(data), 0)
	require.ErrorIs(t, err, ErrInvalidPartSize)
}
