package wrap

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// blobs below this size are snappy encoded, zstd frame overhead dominates for small modules
const zstdMinBlobSize = 4 * 1024

const (
	blobSnappy byte = 's'
	blobZstd   byte = 'z'
)

var errUnknownBlobEncoding = errors.New("unknown blob encoding")

var zstdCodec = sync.OnceValues(func() (*zstd.Encoder, *zstd.Decoder) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err) // theoretically not possible
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return encoder, decoder
})

// ZstdCompress compresses a byte slice using zstd, appending to dst.
func ZstdCompress(dst, data []byte) []byte {
	encoder, _ := zstdCodec()
	return encoder.EncodeAll(data, dst)
}

// ZstdDecompress decompresses a zstd-compressed byte slice, appending to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	_, decoder := zstdCodec()
	return decoder.DecodeAll(data, dst)
}

// SnappyCompress compresses a byte slice using snappy.
func SnappyCompress(dst, data []byte) []byte {
	return s2.EncodeSnappyBest(dst, data)
}

// SnappyDecompress decompresses a snappy-compressed byte slice.
func SnappyDecompress(dst, data []byte) ([]byte, error) {
	return snappy.Decode(dst, data)
}

// compressBlob encodes data with a one byte header naming the codec used.
func compressBlob(data []byte) []byte {
	if len(data) < zstdMinBlobSize {
		return append([]byte{blobSnappy}, SnappyCompress(nil, data)...)
	}
	return ZstdCompress([]byte{blobZstd}, data)
}

// decompressBlob reverses compressBlob.
func decompressBlob(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errUnknownBlobEncoding
	}
	switch blob[0] {
	case blobSnappy:
		return SnappyDecompress(nil, blob[1:])
	case blobZstd:
		return ZstdDecompress(nil, blob[1:])
	default:
		return nil, errUnknownBlobEncoding
	}
}
