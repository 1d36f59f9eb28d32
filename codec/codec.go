// Package codec compresses fixed-size voxel blocks into self-describing
// on-disk blobs.
//
// A blob is a fixed header followed by the compressed bytes. The header
// records the block shape, element size and both lengths, so Decode needs
// no out-of-band metadata. Compression is lossless: Decode(Encode(b)) == b
// for every valid block.
//
// Numeric voxel data compresses poorly byte-for-byte, so Encode can apply
// a byte-shuffle filter before the block compressor: bytes are regrouped
// by significance across elements, which turns slowly varying values into
// long runs. The filter is recorded in the header and undone by Decode.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compressor.
type Compression uint8

const (
	// None stores the (possibly shuffled) block verbatim.
	None Compression = 0
	// LZ4 uses LZ4 block compression. Fast, the default.
	LZ4 Compression = 1
	// ZSTD uses zstd block compression. Better ratio for cold data.
	ZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	// ErrCorruptBlob is returned when a blob's magic is wrong, its header
	// fields are inconsistent, or decompression does not reproduce the
	// declared uncompressed length.
	ErrCorruptBlob = errors.New("corrupt cuboid blob")

	// ErrTruncatedBlob is returned when a blob is shorter than its header
	// declares.
	ErrTruncatedBlob = errors.New("truncated cuboid blob")
)

// Blob layout, little endian:
//
//	magic    [4]byte  "VXGO"
//	version  uint8
//	comp     uint8
//	shuffle  uint8    0 or 1
//	elem     uint8    element size in bytes
//	shape    3x uint32  x, y, z
//	rawLen   uint32   uncompressed length
//	compLen  uint32   compressed length; 0 means stored uncompressed
var magic = [4]byte{'V', 'X', 'G', 'O'}

const (
	version    = 1
	headerSize = 4 + 4 + 12 + 8
)

// Header describes an encoded blob.
type Header struct {
	Compression Compression
	Shuffle     bool
	ElemSize    int
	Shape       [3]int // x, y, z
	RawLen      int
	CompLen     int // 0 when the payload is stored uncompressed
}

// Options configure Encode. The zero value means LZ4 with shuffling,
// which is the right choice for almost all voxel data.
type Options struct {
	Compression Compression
	// NoShuffle disables the byte-shuffle filter. Shuffling is a no-op
	// for 1-byte elements and is skipped automatically there.
	NoShuffle bool
}

// DefaultOptions are the options used by the cache engine unless
// configured otherwise.
var DefaultOptions = Options{Compression: LZ4}

// zstd encoder/decoder pools; both are safe for reuse via EncodeAll /
// DecodeAll and expensive to construct.
var (
	zstdEncPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

// Encode compresses a raw voxel block of the given shape and element size.
// len(raw) must equal shape.x*shape.y*shape.z*elemSize.
func Encode(raw []byte, shape [3]int, elemSize int, opts Options) ([]byte, error) {
	if elemSize <= 0 || elemSize > 255 {
		return nil, fmt.Errorf("codec: invalid element size %d", elemSize)
	}
	want := shape[0] * shape[1] * shape[2] * elemSize
	if want <= 0 || len(raw) != want {
		return nil, fmt.Errorf("codec: block length %d does not match shape %dx%dx%d elem %d",
			len(raw), shape[0], shape[1], shape[2], elemSize)
	}

	shuffled := raw
	doShuffle := !opts.NoShuffle && elemSize > 1
	if doShuffle {
		shuffled = shuffle(raw, elemSize)
	}

	var compressed []byte
	switch opts.Compression {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(shuffled)))
		n, err := lz4.CompressBlock(shuffled, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 compress: %w", err)
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case ZSTD:
		enc := zstdEncPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(shuffled, nil)
		zstdEncPool.Put(enc)
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", opts.Compression)
	}

	// Store incompressible payloads raw; compLen 0 marks them.
	if len(compressed) == 0 || len(compressed) >= len(shuffled) {
		compressed = nil
	}

	payload := compressed
	if payload == nil {
		payload = shuffled
	}

	blob := make([]byte, headerSize+len(payload))
	copy(blob, magic[:])
	blob[4] = version
	blob[5] = byte(opts.Compression)
	if doShuffle {
		blob[6] = 1
	}
	blob[7] = byte(elemSize)
	binary.LittleEndian.PutUint32(blob[8:], uint32(shape[0]))
	binary.LittleEndian.PutUint32(blob[12:], uint32(shape[1]))
	binary.LittleEndian.PutUint32(blob[16:], uint32(shape[2]))
	binary.LittleEndian.PutUint32(blob[20:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(blob[24:], uint32(len(compressed)))
	copy(blob[headerSize:], payload)

	return blob, nil
}

// Decode reverses Encode. It validates the header and lengths and returns
// the raw block plus the parsed header.
func Decode(blob []byte) ([]byte, Header, error) {
	hdr, err := parseHeader(blob)
	if err != nil {
		return nil, Header{}, err
	}

	payloadLen := hdr.CompLen
	if payloadLen == 0 {
		payloadLen = hdr.RawLen
	}
	if len(blob) < headerSize+payloadLen {
		return nil, Header{}, fmt.Errorf("%w: have %d bytes, header declares %d",
			ErrTruncatedBlob, len(blob), headerSize+payloadLen)
	}
	payload := blob[headerSize : headerSize+payloadLen]

	var raw []byte
	if hdr.CompLen == 0 {
		raw = bytes.Clone(payload)
	} else {
		switch hdr.Compression {
		case LZ4:
			raw = make([]byte, hdr.RawLen)
			n, err := lz4.UncompressBlock(payload, raw)
			if err != nil {
				return nil, Header{}, fmt.Errorf("%w: lz4: %v", ErrCorruptBlob, err)
			}
			raw = raw[:n]
		case ZSTD:
			dec := zstdDecPool.Get().(*zstd.Decoder)
			raw, err = dec.DecodeAll(payload, nil)
			zstdDecPool.Put(dec)
			if err != nil {
				return nil, Header{}, fmt.Errorf("%w: zstd: %v", ErrCorruptBlob, err)
			}
		default:
			return nil, Header{}, fmt.Errorf("%w: unknown compression %d", ErrCorruptBlob, hdr.Compression)
		}
	}

	if len(raw) != hdr.RawLen {
		return nil, Header{}, fmt.Errorf("%w: decompressed %d bytes, header declares %d",
			ErrCorruptBlob, len(raw), hdr.RawLen)
	}

	if hdr.Shuffle {
		raw = unshuffle(raw, hdr.ElemSize)
	}

	return raw, hdr, nil
}

func parseHeader(blob []byte) (Header, error) {
	if len(blob) < headerSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header",
			ErrTruncatedBlob, len(blob), headerSize)
	}
	if !bytes.Equal(blob[:4], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorruptBlob, blob[:4])
	}
	if blob[4] != version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptBlob, blob[4])
	}

	hdr := Header{
		Compression: Compression(blob[5]),
		Shuffle:     blob[6] == 1,
		ElemSize:    int(blob[7]),
		Shape: [3]int{
			int(binary.LittleEndian.Uint32(blob[8:])),
			int(binary.LittleEndian.Uint32(blob[12:])),
			int(binary.LittleEndian.Uint32(blob[16:])),
		},
		RawLen:  int(binary.LittleEndian.Uint32(blob[20:])),
		CompLen: int(binary.LittleEndian.Uint32(blob[24:])),
	}

	if hdr.ElemSize == 0 {
		return Header{}, fmt.Errorf("%w: zero element size", ErrCorruptBlob)
	}
	if hdr.RawLen != hdr.Shape[0]*hdr.Shape[1]*hdr.Shape[2]*hdr.ElemSize {
		return Header{}, fmt.Errorf("%w: length %d disagrees with shape %dx%dx%d elem %d",
			ErrCorruptBlob, hdr.RawLen, hdr.Shape[0], hdr.Shape[1], hdr.Shape[2], hdr.ElemSize)
	}
	if hdr.Shuffle && hdr.RawLen%hdr.ElemSize != 0 {
		return Header{}, fmt.Errorf("%w: shuffled length %d not divisible by element size %d",
			ErrCorruptBlob, hdr.RawLen, hdr.ElemSize)
	}

	return hdr, nil
}
