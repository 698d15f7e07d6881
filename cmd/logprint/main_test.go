package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/jrnl"
	"github.com/mit-pdos/go-slotlog/logfile"
	"github.com/mit-pdos/go-slotlog/wal"
)

func TestPrint(t *testing.T) {
	dir, err := ioutil.TempDir("", "slotlog-print")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fs, err := disk.NewUnixFS(dir)
	require.NoError(t, err)

	cfg := wal.DefaultConfig()
	cfg.FileMax = 64 * 1024
	cfg.SlotBufSize = 4096
	cfg.Prealloc = false
	cfg.SyncInterval = 0
	log, err := wal.Open(fs, cfg)
	require.NoError(t, err)
	j := jrnl.MkJournal(log)
	op := j.Begin()
	op.Put([]byte("x"))
	_, err = op.CommitWait(wal.WaitSync)
	require.NoError(t, err)
	_, err = j.Printf("hello")
	require.NoError(t, err)
	require.NoError(t, log.Shutdown())
	fs.Close()

	var out bytes.Buffer
	end, err := printDir(&out, dir, nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[1,128]")
	assert.Contains(t, lines[0], "commit txnid=1 ops=1 bytes=1")
	assert.Contains(t, lines[1], `message "hello"`)
	assert.Equal(t, uint32(1), end.File)

	var out2 bytes.Buffer
	end2, err := printFile(&out2, filepath.Join(dir, logfile.LogName(1)), nil)
	require.NoError(t, err)
	assert.Equal(t, out.String(), out2.String())
	assert.Equal(t, end, end2)
}
