package codec

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// gradientBlock builds a smoothly varying uint16 block, the typical shape
// of microscopy data: compressible after shuffling, noisy byte-for-byte.
func gradientBlock(shape [3]int) []byte {
	raw := make([]byte, shape[0]*shape[1]*shape[2]*2)
	i := 0
	for z := 0; z < shape[2]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				binary.LittleEndian.PutUint16(raw[i:], uint16(1000+x+y*2+z*3))
				i += 2
			}
		}
	}
	return raw
}

func TestRoundTrip(t *testing.T) {
	shape := [3]int{32, 32, 8}

	tests := []struct {
		name     string
		elemSize int
		opts     Options
	}{
		{"lz4 shuffled", 2, Options{Compression: LZ4}},
		{"lz4 no shuffle", 2, Options{Compression: LZ4, NoShuffle: true}},
		{"zstd shuffled", 2, Options{Compression: ZSTD}},
		{"uncompressed", 2, Options{Compression: None}},
		{"uint8", 1, Options{Compression: LZ4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw []byte
			if tt.elemSize == 2 {
				raw = gradientBlock(shape)
			} else {
				raw = make([]byte, shape[0]*shape[1]*shape[2])
				for i := range raw {
					raw[i] = byte(i % 251)
				}
			}

			blob, err := Encode(raw, shape, tt.elemSize, tt.opts)
			require.NoError(t, err)

			got, hdr, err := Decode(blob)
			require.NoError(t, err)
			require.Equal(t, raw, got)
			require.Equal(t, tt.opts.Compression, hdr.Compression)
			require.Equal(t, shape, hdr.Shape)
			require.Equal(t, tt.elemSize, hdr.ElemSize)
			require.Equal(t, len(raw), hdr.RawLen)
		})
	}
}

func TestRoundTrip_RandomData(t *testing.T) {
	// Random bytes are incompressible; Encode must fall back to raw
	// storage and still round-trip.
	shape := [3]int{16, 16, 4}
	raw := make([]byte, shape[0]*shape[1]*shape[2]*4)
	rng := rand.New(rand.NewSource(42))
	rng.Read(raw)

	blob, err := Encode(raw, shape, 4, Options{Compression: LZ4})
	require.NoError(t, err)

	got, hdr, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, raw, got)
	require.Equal(t, 0, hdr.CompLen, "incompressible payload should be stored raw")
}

func TestShuffleImprovesRatio(t *testing.T) {
	shape := [3]int{32, 32, 8}
	raw := gradientBlock(shape)

	shuffled, err := Encode(raw, shape, 2, Options{Compression: LZ4})
	require.NoError(t, err)
	plain, err := Encode(raw, shape, 2, Options{Compression: LZ4, NoShuffle: true})
	require.NoError(t, err)

	require.Less(t, len(shuffled), len(plain))
}

func TestDecode_CorruptMagic(t *testing.T) {
	shape := [3]int{8, 8, 4}
	raw := make([]byte, shape[0]*shape[1]*shape[2])
	blob, err := Encode(raw, shape, 1, DefaultOptions)
	require.NoError(t, err)

	blob[0] ^= 0xff

	_, _, err = Decode(blob)
	require.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecode_Truncated(t *testing.T) {
	shape := [3]int{8, 8, 4}
	raw := gradientBlock(shape)
	blob, err := Encode(raw, shape, 2, DefaultOptions)
	require.NoError(t, err)

	// Shorter than the header.
	_, _, err = Decode(blob[:10])
	require.ErrorIs(t, err, ErrTruncatedBlob)

	// Header intact, payload cut short.
	_, _, err = Decode(blob[:len(blob)-5])
	require.ErrorIs(t, err, ErrTruncatedBlob)
}

func TestDecode_LengthMismatch(t *testing.T) {
	shape := [3]int{8, 8, 4}
	raw := gradientBlock(shape)
	blob, err := Encode(raw, shape, 2, DefaultOptions)
	require.NoError(t, err)

	// Claim a different raw length than the shape implies.
	binary.LittleEndian.PutUint32(blob[20:], uint32(len(raw)+2))

	_, _, err = Decode(blob)
	require.ErrorIs(t, err, ErrCorruptBlob)
}

func TestEncode_RejectsBadInput(t *testing.T) {
	_, err := Encode(make([]byte, 10), [3]int{8, 8, 4}, 1, DefaultOptions)
	require.Error(t, err)

	_, err = Encode(nil, [3]int{0, 0, 0}, 1, DefaultOptions)
	require.Error(t, err)

	_, err = Encode(make([]byte, 8), [3]int{2, 2, 2}, 0, DefaultOptions)
	require.Error(t, err)
}

func TestShuffleInverse(t *testing.T) {
	raw := make([]byte, 64*8)
	rng := rand.New(rand.NewSource(7))
	rng.Read(raw)

	for _, elem := range []int{2, 4, 8} {
		require.Equal(t, raw, unshuffle(shuffle(raw, elem), elem), "elem size %d", elem)
	}
}
