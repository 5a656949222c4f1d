package bkt

import (
	"github.com/klauspost/compress/zstd"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// compress wraps a serialized record in zstd framing before it is written to
// a data file. Applied uniformly; there is no toggle to disable it.
func compress(src []byte) []byte {
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

// decompress reverses compress. A corrupt frame is reported as CorruptCache.
func decompress(src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, bkterrors.CorruptCache("failed to decompress cache entry", err)
	}
	return out, nil
}
