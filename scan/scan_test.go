package scan

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-slotlog/common"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/logfile"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/util"
)

const fileMax = 16 * 1024

func mkFile(t *testing.T, m *logfile.Manager, id uint32, payloads ...string) lsn.LSN {
	f, err := m.Create(id)
	require.NoError(t, err)
	defer f.Close()
	off := common.FirstRecord
	for _, p := range payloads {
		rec := record.Encode([]byte(p), nil)
		_, err := f.WriteAt(rec, off)
		require.NoError(t, err)
		off += util.AlignUp(int64(len(rec)), common.LogAlign)
	}
	return lsn.MkLSN(id, off)
}

func collect(t *testing.T, fs disk.FS, from lsn.LSN) ([]string, []lsn.LSN, lsn.LSN, error) {
	var ps []string
	var ls []lsn.LSN
	end, err := Scan(fs, from, nil, func(r Record) error {
		ps = append(ps, string(r.Payload))
		ls = append(ls, r.LSN)
		return nil
	})
	return ps, ls, end, err
}

func TestScanFiles(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	m, err := logfile.Open(fs, fileMax)
	require.NoError(t, err)
	mkFile(t, m, 1, "a", "b")
	end := mkFile(t, m, 2, "c")

	ps, ls, got, err := collect(t, fs, lsn.Zero())
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ps)
	assert.Equal(t, []lsn.LSN{
		lsn.MkLSN(1, common.FirstRecord),
		lsn.MkLSN(1, common.FirstRecord+common.LogAlign),
		lsn.MkLSN(2, common.FirstRecord),
	}, ls)
	assert.Equal(t, end, got)
}

func TestScanFrom(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	m, _ := logfile.Open(fs, fileMax)
	mkFile(t, m, 1, "a", "b", "c")

	ps, _, _, err := collect(t, fs, lsn.MkLSN(1, common.FirstRecord+common.LogAlign))
	assert.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ps)
}

func TestScanStop(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	m, _ := logfile.Open(fs, fileMax)
	mkFile(t, m, 1, "a", "b", "c")
	n := 0
	_, err := Scan(fs, lsn.Zero(), nil, func(r Record) error {
		n++
		if n == 2 {
			return ErrStop
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func corrupt(t *testing.T, fs disk.FS, at lsn.LSN) {
	f, err := fs.Open(logfile.LogName(at.File))
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{0xff}, at.Offset+common.RecordHdrSize)
	require.NoError(t, err)
}

func TestTornTail(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	m, _ := logfile.Open(fs, fileMax)
	mkFile(t, m, 1, "a")
	mkFile(t, m, 2, "b", "c")
	bad := lsn.MkLSN(2, common.FirstRecord+common.LogAlign)
	corrupt(t, fs, bad)

	ps, _, end, err := collect(t, fs, lsn.Zero())
	assert.NoError(t, err, "damage in the newest file ends the log")
	assert.Equal(t, []string{"a", "b"}, ps)
	assert.Equal(t, bad, end)
}

func TestCorruptMiddle(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	m, _ := logfile.Open(fs, fileMax)
	mkFile(t, m, 1, "a")
	mkFile(t, m, 2, "b")
	corrupt(t, fs, lsn.MkLSN(1, common.FirstRecord))

	_, _, _, err := collect(t, fs, lsn.Zero())
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestBadFileHeader(t *testing.T) {
	fs := disk.NewMemFS(fileMax)
	f, _ := fs.Create(logfile.LogName(1))
	f.Truncate(fileMax)
	_, err := ScanFile(f, fileMax, lsn.MkLSN(1, 0), nil, func(Record) error { return nil })
	assert.True(t, errors.Is(err, record.ErrBadMagic))
}

func TestMapped(t *testing.T) {
	dir, err := ioutil.TempDir("", "slotlog-scan")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fs, err := disk.NewUnixFS(dir)
	require.NoError(t, err)
	m, _ := logfile.Open(fs, fileMax)
	var want []string
	for i := 0; i < 20; i++ {
		want = append(want, fmt.Sprintf("record %d", i))
	}
	mkFile(t, m, 1, want...)

	mf, err := OpenMapped(filepath.Join(dir, logfile.LogName(1)))
	require.NoError(t, err)
	defer mf.Close()
	assert.Equal(t, int64(fileMax), mf.Size())
	var got []string
	_, err = ScanFile(mf, mf.Size(), lsn.MkLSN(1, 0), nil, func(r Record) error {
		got = append(got, string(r.Payload))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}
