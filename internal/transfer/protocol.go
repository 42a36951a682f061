package transfer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/jaywantadh/msgvault/internal/chunker"
	"github.com/jaywantadh/msgvault/internal/compressor"
	"github.com/jaywantadh/msgvault/internal/encryptor"
)

// Wire format of a stored part:
//
//	magic "MVP1" | version u8 | flags u8 | fileID (u16 len + bytes) |
//	index u32 | total u32 | checksum [32]byte | payloadLen u32 | payload
//
// All integers are big-endian. The checksum covers the raw part bytes, before
// compression and sealing, so a part can be verified without the ledger.
const (
	EnvelopeVersion = 1

	FlagLZ4    uint8 = 1 << 0
	FlagZstd   uint8 = 1 << 1
	FlagSealed uint8 = 1 << 2
)

var envelopeMagic = [4]byte{'M', 'V', 'P', '1'}

const minEnvelopeSize = 4 + 1 + 1 + 2 + 4 + 4 + 32 + 4

var (
	// ErrBadEnvelope is wrapped by every envelope decoding failure.
	ErrBadEnvelope = errors.New("transfer: malformed part envelope")
	// ErrNoKey is returned when a sealed part is decoded without a password.
	ErrNoKey = errors.New("transfer: part is sealed and no password was configured")
)

// Direction tells uploads from downloads in sessions and events.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Envelope is a part together with the metadata needed to place it.
type Envelope struct {
	Flags    uint8
	FileID   string
	Index    int
	Total    int
	Checksum string
	Payload  []byte
}

// MarshalBinary encodes the envelope in wire format.
func (e Envelope) MarshalBinary() ([]byte, error) {
	if len(e.FileID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: file id too long", ErrBadEnvelope)
	}
	if e.Index < 0 || e.Total < 0 || int64(e.Index) > math.MaxUint32 || int64(e.Total) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: index %d of %d out of range", ErrBadEnvelope, e.Index, e.Total)
	}
	if int64(len(e.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload too large", ErrBadEnvelope)
	}
	sum, err := hex.DecodeString(e.Checksum)
	if err != nil || len(sum) != 32 {
		return nil, fmt.Errorf("%w: checksum %q is not a sha256 digest", ErrBadEnvelope, e.Checksum)
	}

	buf := bytes.NewBuffer(make([]byte, 0, minEnvelopeSize+len(e.FileID)+len(e.Payload)))
	buf.Write(envelopeMagic[:])
	buf.WriteByte(EnvelopeVersion)
	buf.WriteByte(e.Flags)
	_ = binary.Write(buf, binary.BigEndian, uint16(len(e.FileID)))
	buf.WriteString(e.FileID)
	_ = binary.Write(buf, binary.BigEndian, uint32(e.Index))
	_ = binary.Write(buf, binary.BigEndian, uint32(e.Total))
	buf.Write(sum)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(e.Payload)))
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// DecodeEnvelope parses data produced by MarshalBinary.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) < minEnvelopeSize {
		return e, fmt.Errorf("%w: %d bytes is too short", ErrBadEnvelope, len(data))
	}
	if !bytes.Equal(data[:4], envelopeMagic[:]) {
		return e, fmt.Errorf("%w: bad magic", ErrBadEnvelope)
	}
	if data[4] != EnvelopeVersion {
		return e, fmt.Errorf("%w: unsupported version %d", ErrBadEnvelope, data[4])
	}
	e.Flags = data[5]
	if e.Flags&FlagLZ4 != 0 && e.Flags&FlagZstd != 0 {
		return e, fmt.Errorf("%w: conflicting compression flags", ErrBadEnvelope)
	}

	rest := data[6:]
	idLen := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) < idLen+4+4+32+4 {
		return e, fmt.Errorf("%w: truncated header", ErrBadEnvelope)
	}
	e.FileID = string(rest[:idLen])
	rest = rest[idLen:]
	e.Index = int(binary.BigEndian.Uint32(rest))
	e.Total = int(binary.BigEndian.Uint32(rest[4:]))
	e.Checksum = hex.EncodeToString(rest[8:40])
	payloadLen := int64(binary.BigEndian.Uint32(rest[40:]))
	rest = rest[44:]
	if int64(len(rest)) != payloadLen {
		return e, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrBadEnvelope, len(rest), payloadLen)
	}
	if e.Total > 0 && e.Index >= e.Total {
		return e, fmt.Errorf("%w: index %d of %d", ErrBadEnvelope, e.Index, e.Total)
	}
	e.Payload = rest
	return e, nil
}

// Codec turns raw parts into stored objects and back. The zero value stores
// parts uncompressed and in the clear.
type Codec struct {
	Compression compressor.Algorithm
	Sealer      encryptor.Encryptor
}

func additionalData(fileID string, index int) []byte {
	return []byte(fileID + "/" + strconv.Itoa(index))
}

// Encode wraps part index of total for fileID.
func (c Codec) Encode(fileID string, index, total int, data []byte) ([]byte, error) {
	env := Envelope{
		FileID:   fileID,
		Index:    index,
		Total:    total,
		Checksum: chunker.Checksum(data),
		Payload:  data,
	}

	switch c.Compression {
	case compressor.None, "":
	case compressor.LZ4:
		env.Flags |= FlagLZ4
	case compressor.Zstd:
		env.Flags |= FlagZstd
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", c.Compression)
	}
	payload, err := compressor.Compress(c.Compression, data)
	if err != nil {
		return nil, err
	}

	if c.Sealer != nil {
		payload, err = c.Sealer.Seal(payload, additionalData(fileID, index))
		if err != nil {
			return nil, fmt.Errorf("failed to seal part %d: %w", index, err)
		}
		env.Flags |= FlagSealed
	}
	env.Payload = payload
	return env.MarshalBinary()
}

// Open decodes a stored object without checking which file it belongs to.
// The returned envelope carries the raw part bytes as payload.
func (c Codec) Open(raw []byte) (Envelope, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return env, &chunker.IntegrityError{Index: -1, Err: err}
	}

	payload := env.Payload
	if env.Flags&FlagSealed != 0 {
		if c.Sealer == nil {
			return env, ErrNoKey
		}
		payload, err = c.Sealer.Open(payload, additionalData(env.FileID, env.Index))
		if err != nil {
			return env, &chunker.IntegrityError{Index: env.Index, Err: err}
		}
	}

	alg := compressor.None
	switch {
	case env.Flags&FlagLZ4 != 0:
		alg = compressor.LZ4
	case env.Flags&FlagZstd != 0:
		alg = compressor.Zstd
	}
	payload, err = compressor.Decompress(alg, payload)
	if err != nil {
		return env, &chunker.IntegrityError{Index: env.Index, Err: err}
	}

	if got := chunker.Checksum(payload); got != env.Checksum {
		return env, &chunker.IntegrityError{Index: env.Index, Expected: env.Checksum, Actual: got}
	}
	env.Payload = payload
	return env, nil
}

// Decode returns the raw bytes of part index of fileID stored in raw.
func (c Codec) Decode(raw []byte, fileID string, index int) ([]byte, error) {
	env, err := c.Open(raw)
	if err != nil {
		var ie *chunker.IntegrityError
		if errors.As(err, &ie) {
			ie.Index = index
		}
		return nil, err
	}
	if env.FileID != fileID || env.Index != index {
		return nil, &chunker.IntegrityError{
			Index: index,
			Err:   fmt.Errorf("object holds part %d of file %s", env.Index, env.FileID),
		}
	}
	return env.Payload, nil
}
