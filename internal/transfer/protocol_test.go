package transfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/compressor"
	"github.com/jaywantadh/msgvault/internal/encryptor"
)

func TestEnvelopeEncoding(t *testing.T) {
	payload := []byte("part bytes")
	env := Envelope{
		Flags:    FlagZstd,
		FileID:   "5f0c8f5e-5a1b-4c43-9d55-3a3b7d2e1c11",
		Index:    7,
		Total:    9,
		Checksum: chunker.Checksum(payload),
		Payload:  payload,
	}
	raw, err := env.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte("MVP1"), raw[:4])

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDecodeEnvelopeRejectsMalformed(t *testing.T) {
	payload := []byte("abc")
	raw, err := Envelope{FileID: "f", Index: 0, Total: 1, Checksum: chunker.Checksum(payload), Payload: payload}.MarshalBinary()
	require.NoError(t, err)

	cases := map[string][]byte{
		"short":     raw[:10],
		"magic":     append([]byte("XXXX"), raw[4:]...),
		"version":   append(append([]byte{}, raw[:4]...), append([]byte{9}, raw[5:]...)...),
		"truncated": raw[:len(raw)-1],
		"trailing":  append(append([]byte{}, raw...), 0x00),
	}
	for name, data := range cases {
		_, err := DecodeEnvelope(data)
		require.ErrorIs(t, err, ErrBadEnvelope, name)
	}

	_, err = Envelope{FileID: "f", Checksum: "not hex"}.MarshalBinary()
	require.ErrorIs(t, err, ErrBadEnvelope)
	_, err = Envelope{FileID: "f", Index: 3, Total: 2, Checksum: chunker.Checksum(nil)}.MarshalBinary()
	require.NoError(t, err, "range is checked on decode")
}

func TestCodecRoundTrip(t *testing.T) {
	sealer, err := encryptor.NewSealer("pw")
	require.NoError(t, err)
	data := bytes.Repeat([]byte("payload "), 100)

	for _, codec := range []Codec{
		{},
		{Compression: compressor.LZ4},
		{Compression: compressor.Zstd},
		{Compression: compressor.Zstd, Sealer: sealer},
	} {
		raw, err := codec.Encode("file", 2, 5, data)
		require.NoError(t, err)

		got, err := codec.Decode(raw, "file", 2)
		require.NoError(t, err)
		require.Equal(t, data, got)

		// The object belongs to another part.
		_, err = codec.Decode(raw, "file", 3)
		var integrity *chunker.IntegrityError
		require.ErrorAs(t, err, &integrity)
		require.Equal(t, 3, integrity.Index)
	}
}

func TestCodecSealing(t *testing.T) {
	sealer, err := encryptor.NewSealer("pw")
	require.NoError(t, err)
	raw, err := Codec{Sealer: sealer}.Encode("file", 0, 1, []byte("secret"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")

	_, err = Codec{}.Decode(raw, "file", 0)
	require.ErrorIs(t, err, ErrNoKey)

	other, err := encryptor.NewSealer("other")
	require.NoError(t, err)
	_, err = Codec{Sealer: other}.Decode(raw, "file", 0)
	var integrity *chunker.IntegrityError
	require.ErrorAs(t, err, &integrity)

	// Flags in the envelope decide decoding, not the reader's settings.
	plain, err := Codec{}.Encode("file", 0, 1, []byte("clear"))
	require.NoError(t, err)
	got, err := Codec{Compression: compressor.Zstd, Sealer: sealer}.Decode(plain, "file", 0)
	require.NoError(t, err)
	require.Equal(t, "clear", string(got))
}

func TestCodecDetectsDamage(t *testing.T) {
	raw, err := Codec{Compression: compressor.LZ4}.Encode("file", 0, 1, bytes.Repeat([]byte{1}, 512))
	require.NoError(t, err)
	// Flip a byte inside the first compressed block.
	raw[minEnvelopeSize+len("file")+12] ^= 0xff

	_, err = Codec{}.Decode(raw, "file", 0)
	var integrity *chunker.IntegrityError
	require.ErrorAs(t, err, &integrity)
}
