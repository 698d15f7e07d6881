// Package scan reads records back out of log files, in LSN order.
package scan

import (
	"errors"
	"fmt"
	"io"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/logfile"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/util"
)

var ErrCorrupt = errors.New("scan: corrupt log")

// ErrStop may be returned by a scan callback to end the scan early.
var ErrStop = errors.New("scan: stop")

type Record struct {
	LSN     lsn.LSN
	Header  record.Header
	Payload []byte
}

// End is the LSN just past the record's aligned space.
func (r Record) End() lsn.LSN {
	return r.LSN.Add(util.AlignUp(int64(r.Header.Len), common.LogAlign))
}

// ScanFile calls fn for each record of the log file in r, beginning at
// start (the file's first record if start.Offset is before it). It stops at
// the first zero-length header, which marks space never written, and
// returns the LSN at which it stopped. A damaged record stops the scan
// with an error wrapping ErrCorrupt and the LSN of that record.
func ScanFile(r io.ReaderAt, size int64, start lsn.LSN, c record.Compressor, fn func(Record) error) (lsn.LSN, error) {
	hdr := make([]byte, common.FileHdrSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return start, fmt.Errorf("%w: file %d header: %v", ErrCorrupt, start.File, err)
	}
	fh, err := record.DecodeFileHeader(hdr)
	if err != nil {
		return start, err
	}
	if err := fh.Check(); err != nil {
		return start, err
	}

	pos := start
	if pos.Offset < common.FirstRecord {
		pos.Offset = common.FirstRecord
	}
	rh := make([]byte, common.RecordHdrSize)
	for pos.Offset+common.RecordHdrSize <= size {
		if _, err := r.ReadAt(rh, pos.Offset); err != nil {
			return pos, fmt.Errorf("%w: %v: %v", ErrCorrupt, pos, err)
		}
		h, err := record.DecodeHeader(rh)
		if err != nil {
			return pos, fmt.Errorf("%w: %v: %v", ErrCorrupt, pos, err)
		}
		if h.Len == 0 {
			break
		}
		if int64(h.Len) < common.RecordHdrSize || pos.Offset+int64(h.Len) > size {
			return pos, fmt.Errorf("%w: %v: record length %d", ErrCorrupt, pos, h.Len)
		}
		buf := make([]byte, h.Len)
		if _, err := r.ReadAt(buf, pos.Offset); err != nil {
			return pos, fmt.Errorf("%w: %v: %v", ErrCorrupt, pos, err)
		}
		p, h, err := record.Decode(buf, c)
		if err != nil {
			return pos, fmt.Errorf("%w: %v: %v", ErrCorrupt, pos, err)
		}
		rec := Record{LSN: pos, Header: h, Payload: p}
		if err := fn(rec); err != nil {
			return pos, err
		}
		pos = rec.End()
	}
	return pos, nil
}

// Scan calls fn for every record in fs from LSN from on. Damage in the
// newest file is taken as the end of the log, as a crash can leave a torn
// record there; damage in an older file is an error. It returns the end of
// the log.
func Scan(fs disk.FS, from lsn.LSN, c record.Compressor, fn func(Record) error) (lsn.LSN, error) {
	names, err := fs.List(common.LogFilename + ".")
	if err != nil {
		return from, err
	}
	var ids []uint32
	for _, n := range names {
		id, err := logfile.ParseID(n)
		if err != nil {
			return from, err
		}
		if id >= from.File {
			ids = append(ids, id)
		}
	}
	end := from
	for i, id := range ids {
		start := lsn.MkLSN(id, common.FirstRecord)
		if id == from.File {
			start = from
		}
		end, err = scanOne(fs, start, c, fn)
		if errors.Is(err, ErrStop) {
			return end, nil
		}
		if err != nil {
			if errors.Is(err, ErrCorrupt) && i == len(ids)-1 {
				util.DPrintf(1, "scan: log ends at %v: %v\n", end, err)
				return end, nil
			}
			return end, err
		}
	}
	return end, nil
}

func scanOne(fs disk.FS, start lsn.LSN, c record.Compressor, fn func(Record) error) (lsn.LSN, error) {
	f, err := fs.Open(logfile.LogName(start.File))
	if err != nil {
		return start, err
	}
	defer f.Close()
	size, err := f.Size()
	if err != nil {
		return start, err
	}
	return ScanFile(f, size, start, c, fn)
}
