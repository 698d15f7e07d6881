package record

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compressor compresses record payloads. Implementations must be safe for
// concurrent use: every appending thread compresses its own record.
type Compressor interface {
	Name() string
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) ([]byte, error)
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Name() string {
	return "zstd"
}

func (z *zstdCompressor) Compress(dst, src []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z *zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, dst)
}

var (
	zstdOnce sync.Once
	zstdC    *zstdCompressor
	zstdErr  error
)

func sharedZstd() (*zstdCompressor, error) {
	zstdOnce.Do(func() {
		zstdC, zstdErr = newZstd()
	})
	return zstdC, zstdErr
}

func defaultCompressor() Compressor {
	c, err := sharedZstd()
	if err != nil {
		return nil
	}
	return c
}

// LookupCompressor maps a configured name to a Compressor. The empty name
// means no compression.
func LookupCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "zstd":
		return sharedZstd()
	}
	return nil, fmt.Errorf("unknown compressor %q", name)
}
