package record

import (
	"errors"
	"fmt"
	"io"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-slotlog/lsn"
)

// Type is the leading field of every payload written through this module.
type Type uint32

const (
	TypeInvalid Type = iota
	TypeCheckpoint
	TypeCommit
	TypeFileSync
	TypeMessage
)

var ErrPayload = errors.New("malformed record payload")

// Desc describes a record type for diagnostic printing: Fmt is the packing
// format (I=u32, Q=u64, u=length-prefixed bytes, S=string) and Print renders
// the body that follows the type field.
type Desc struct {
	Name  string
	Fmt   string
	Print func(w io.Writer, body []byte) error
}

var descs = map[Type]Desc{
	TypeCheckpoint: {Name: "checkpoint", Fmt: "IQ", Print: printCheckpoint},
	TypeCommit:     {Name: "commit", Fmt: "QIu", Print: printCommit},
	TypeFileSync:   {Name: "file_sync", Fmt: "II", Print: printFileSync},
	TypeMessage:    {Name: "message", Fmt: "S", Print: printMessage},
}

func Lookup(t Type) (Desc, bool) {
	d, ok := descs[t]
	return d, ok
}

func TypeOf(p []byte) (Type, error) {
	if len(p) < 4 {
		return TypeInvalid, ErrPayload
	}
	return Type(marshal.NewDec(p[:4]).GetInt32()), nil
}

// Print writes a one-line rendering of payload p.
func Print(w io.Writer, p []byte) error {
	t, err := TypeOf(p)
	if err != nil {
		return err
	}
	if t == TypeInvalid {
		_, err := fmt.Fprintf(w, "padding len=%d", len(p))
		return err
	}
	d, ok := descs[t]
	if !ok {
		_, err := fmt.Fprintf(w, "unknown(%d) len=%d", t, len(p))
		return err
	}
	if _, err := fmt.Fprintf(w, "%s ", d.Name); err != nil {
		return err
	}
	return d.Print(w, p[4:])
}

func PackCheckpoint(ckpt lsn.LSN) []byte {
	enc := marshal.NewEnc(4 + 4 + 8)
	enc.PutInt32(uint32(TypeCheckpoint))
	enc.PutInt32(ckpt.File)
	enc.PutInt(uint64(ckpt.Offset))
	return enc.Finish()
}

func unpackCheckpoint(body []byte) (lsn.LSN, error) {
	if len(body) != 12 {
		return lsn.LSN{}, ErrPayload
	}
	dec := marshal.NewDec(body)
	f := dec.GetInt32()
	off := dec.GetInt()
	return lsn.MkLSN(f, int64(off)), nil
}

func UnpackCheckpoint(p []byte) (lsn.LSN, error) {
	t, err := TypeOf(p)
	if err != nil || t != TypeCheckpoint {
		return lsn.LSN{}, ErrPayload
	}
	return unpackCheckpoint(p[4:])
}

func printCheckpoint(w io.Writer, body []byte) error {
	ckpt, err := unpackCheckpoint(body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "ckpt_lsn=%v", ckpt)
	return err
}

// PackCommit packs the operations of one transaction.
func PackCommit(txnid uint64, ops [][]byte) []byte {
	sz := uint64(4 + 8 + 4)
	for _, op := range ops {
		sz += 8 + uint64(len(op))
	}
	enc := marshal.NewEnc(sz)
	enc.PutInt32(uint32(TypeCommit))
	enc.PutInt(txnid)
	enc.PutInt32(uint32(len(ops)))
	for _, op := range ops {
		enc.PutInt(uint64(len(op)))
		enc.PutBytes(op)
	}
	return enc.Finish()
}

func unpackCommit(body []byte) (uint64, [][]byte, error) {
	if len(body) < 12 {
		return 0, nil, ErrPayload
	}
	dec := marshal.NewDec(body)
	txnid := dec.GetInt()
	n := dec.GetInt32()
	rest := uint64(len(body) - 12)
	ops := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if rest < 8 {
			return 0, nil, ErrPayload
		}
		l := dec.GetInt()
		rest -= 8
		if l > rest {
			return 0, nil, ErrPayload
		}
		ops = append(ops, dec.GetBytes(l))
		rest -= l
	}
	return txnid, ops, nil
}

func UnpackCommit(p []byte) (uint64, [][]byte, error) {
	t, err := TypeOf(p)
	if err != nil || t != TypeCommit {
		return 0, nil, ErrPayload
	}
	return unpackCommit(p[4:])
}

func printCommit(w io.Writer, body []byte) error {
	txnid, ops, err := unpackCommit(body)
	if err != nil {
		return err
	}
	var total = 0
	for _, op := range ops {
		total += len(op)
	}
	_, err = fmt.Fprintf(w, "txnid=%d ops=%d bytes=%d", txnid, len(ops), total)
	return err
}

func PackFileSync(fileID uint32, start bool) []byte {
	enc := marshal.NewEnc(12)
	enc.PutInt32(uint32(TypeFileSync))
	enc.PutInt32(fileID)
	var s uint32
	if start {
		s = 1
	}
	enc.PutInt32(s)
	return enc.Finish()
}

func printFileSync(w io.Writer, body []byte) error {
	if len(body) != 8 {
		return ErrPayload
	}
	dec := marshal.NewDec(body)
	id := dec.GetInt32()
	start := dec.GetInt32()
	_, err := fmt.Fprintf(w, "fileid=%d start=%t", id, start != 0)
	return err
}

func PackMessage(msg string) []byte {
	enc := marshal.NewEnc(4 + 8 + uint64(len(msg)))
	enc.PutInt32(uint32(TypeMessage))
	enc.PutInt(uint64(len(msg)))
	enc.PutBytes([]byte(msg))
	return enc.Finish()
}

func printMessage(w io.Writer, body []byte) error {
	if len(body) < 8 {
		return ErrPayload
	}
	dec := marshal.NewDec(body)
	l := dec.GetInt()
	if l != uint64(len(body)-8) {
		return ErrPayload
	}
	_, err := fmt.Fprintf(w, "%q", dec.GetBytes(l))
	return err
}
