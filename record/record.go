// Package record encodes the on-disk framing of the log: the fixed record
// header in front of every payload and the header at the start of every log
// file.
package record

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-slotlog/common"
)

const (
	FlagCompressed uint16 = 0x01
	FlagEncrypted  uint16 = 0x02
)

var (
	ErrShort     = errors.New("record shorter than its header")
	ErrLength    = errors.New("record length out of range")
	ErrChecksum  = errors.New("record checksum mismatch")
	ErrEncrypted = errors.New("encrypted records are not supported")
	ErrBadMagic  = errors.New("log file has bad magic number")
	ErrVersion   = errors.New("unsupported log file version")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed 16-byte prefix of every record.
type Header struct {
	Len      uint32 // record length including the header
	Checksum uint32
	Flags    uint16
	MemLen   uint32 // uncompressed payload length if compressed
}

func (h Header) Encode() []byte {
	enc := marshal.NewEnc(uint64(common.RecordHdrSize))
	enc.PutInt32(h.Len)
	enc.PutInt32(h.Checksum)
	// flags in the low half, the reserved half stays zero
	enc.PutInt32(uint32(h.Flags))
	enc.PutInt32(h.MemLen)
	return enc.Finish()
}

func DecodeHeader(b []byte) (Header, error) {
	if int64(len(b)) < common.RecordHdrSize {
		return Header{}, ErrShort
	}
	dec := marshal.NewDec(b[:common.RecordHdrSize])
	var h Header
	h.Len = dec.GetInt32()
	h.Checksum = dec.GetInt32()
	h.Flags = uint16(dec.GetInt32())
	h.MemLen = dec.GetInt32()
	return h, nil
}

func checksum(rec []byte) uint32 {
	c := crc32.Update(0, castagnoli, rec[:4])
	c = crc32.Update(c, castagnoli, []byte{0, 0, 0, 0})
	return crc32.Update(c, castagnoli, rec[8:])
}

// Encode frames payload as a record, compressing it with c when that makes
// it smaller. The result is not padded.
func Encode(payload []byte, c Compressor) []byte {
	var h Header
	body := payload
	if c != nil && len(payload) > 0 {
		z := c.Compress(nil, payload)
		if len(z) < len(payload) {
			body = z
			h.Flags |= FlagCompressed
			h.MemLen = uint32(len(payload))
		}
	}
	h.Len = uint32(common.RecordHdrSize) + uint32(len(body))
	rec := make([]byte, h.Len)
	copy(rec, h.Encode())
	copy(rec[common.RecordHdrSize:], body)
	h.Checksum = checksum(rec)
	copy(rec, h.Encode())
	return rec
}

// Pad returns a record of exactly size bytes whose payload is zero, of type
// TypeInvalid. It fills space reserved by an abandoned append.
func Pad(size int64) []byte {
	return Encode(make([]byte, size-common.RecordHdrSize), nil)
}

// Decode verifies rec (exactly one record, without padding) and returns its
// payload.
func Decode(rec []byte, c Compressor) ([]byte, Header, error) {
	h, err := DecodeHeader(rec)
	if err != nil {
		return nil, h, err
	}
	if int64(h.Len) < common.RecordHdrSize || int(h.Len) != len(rec) {
		return nil, h, fmt.Errorf("%w: %d", ErrLength, h.Len)
	}
	if checksum(rec) != h.Checksum {
		return nil, h, ErrChecksum
	}
	if h.Flags&FlagEncrypted != 0 {
		return nil, h, ErrEncrypted
	}
	body := rec[common.RecordHdrSize:]
	if h.Flags&FlagCompressed != 0 {
		if c == nil {
			c = defaultCompressor()
		}
		if c == nil {
			return nil, h, fmt.Errorf("decompress: no compressor")
		}
		out, err := c.Decompress(make([]byte, 0, h.MemLen), body)
		if err != nil {
			return nil, h, fmt.Errorf("decompress: %w", err)
		}
		if uint32(len(out)) != h.MemLen {
			return nil, h, fmt.Errorf("%w: uncompressed %d, header %d", ErrLength, len(out), h.MemLen)
		}
		return out, h, nil
	}
	return body, h, nil
}

// FileHeader is the description at offset 0 of every log file.
type FileHeader struct {
	Magic   uint32
	Major   uint16
	Minor   uint16
	LogSize uint64
}

func MkFileHeader(logSize int64) FileHeader {
	return FileHeader{
		Magic:   common.LogMagic,
		Major:   common.LogMajorVersion,
		Minor:   common.LogMinorVersion,
		LogSize: uint64(logSize),
	}
}

func (fh FileHeader) Encode() []byte {
	enc := marshal.NewEnc(uint64(common.FileHdrSize))
	enc.PutInt32(fh.Magic)
	enc.PutInt32(uint32(fh.Major) | uint32(fh.Minor)<<16)
	enc.PutInt(fh.LogSize)
	return enc.Finish()
}

func DecodeFileHeader(b []byte) (FileHeader, error) {
	if int64(len(b)) < common.FileHdrSize {
		return FileHeader{}, ErrShort
	}
	dec := marshal.NewDec(b[:common.FileHdrSize])
	var fh FileHeader
	fh.Magic = dec.GetInt32()
	v := dec.GetInt32()
	fh.Major = uint16(v)
	fh.Minor = uint16(v >> 16)
	fh.LogSize = dec.GetInt()
	return fh, nil
}

// Check rejects headers from foreign or newer-format files.
func (fh FileHeader) Check() error {
	if fh.Magic != common.LogMagic {
		return fmt.Errorf("%w: %#x", ErrBadMagic, fh.Magic)
	}
	if fh.Major != common.LogMajorVersion || fh.Minor > common.LogMinorVersion {
		return fmt.Errorf("%w: %d.%d", ErrVersion, fh.Major, fh.Minor)
	}
	return nil
}
