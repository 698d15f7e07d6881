package disk

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FSSuite struct {
	suite.Suite
	mk func() FS
	fs FS
}

func (suite *FSSuite) SetupTest() {
	suite.fs = suite.mk()
}

func (suite *FSSuite) TearDownTest() {
	suite.fs.Close()
}

func TestMemFS(t *testing.T) {
	suite.Run(t, &FSSuite{mk: func() FS { return NewMemFS(64 * 1024) }})
}

func TestUnixFS(t *testing.T) {
	dir, err := ioutil.TempDir("", "slotlog-disk")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	var n = 0
	suite.Run(t, &FSSuite{mk: func() FS {
		n++
		fs, err := NewUnixFS(dir + "/" + string(rune('a'+n)))
		require.NoError(t, err)
		return fs
	}})
}

func pattern(n int, b byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b + byte(i)
	}
	return p
}

func (suite *FSSuite) TestWriteReadAcrossBlocks() {
	f, err := suite.fs.Create("f")
	suite.Require().NoError(err)
	p := pattern(6000, 3)
	n, err := f.WriteAt(p, 4000)
	suite.NoError(err)
	suite.Equal(6000, n)

	sz, err := f.Size()
	suite.NoError(err)
	suite.Equal(int64(10000), sz)

	got := make([]byte, 6000)
	_, err = f.ReadAt(got, 4000)
	suite.NoError(err)
	suite.Equal(p, got)

	head := make([]byte, 10)
	_, err = f.ReadAt(head, 0)
	suite.NoError(err)
	suite.Equal(make([]byte, 10), head, "hole reads as zeros")
	suite.NoError(f.Sync())
	suite.NoError(f.Close())
}

func (suite *FSSuite) TestShortRead() {
	f, err := suite.fs.Create("f")
	suite.Require().NoError(err)
	_, err = f.WriteAt(pattern(100, 0), 0)
	suite.NoError(err)
	buf := make([]byte, 200)
	n, err := f.ReadAt(buf, 50)
	suite.Equal(io.EOF, err)
	suite.Equal(50, n)
}

func (suite *FSSuite) TestTruncate() {
	f, err := suite.fs.Create("f")
	suite.Require().NoError(err)
	_, err = f.WriteAt(pattern(300, 1), 0)
	suite.NoError(err)
	suite.NoError(f.Truncate(100))
	suite.NoError(f.Truncate(300))
	buf := make([]byte, 200)
	_, err = f.ReadAt(buf, 100)
	suite.NoError(err)
	suite.Equal(make([]byte, 200), buf, "truncated bytes come back as zeros")
}

func (suite *FSSuite) TestRenameListRemove() {
	fs := suite.fs
	for _, name := range []string{"log.2", "log.1", "tmp.3"} {
		f, err := fs.Create(name)
		suite.Require().NoError(err)
		f.Close()
	}
	names, err := fs.List("log.")
	suite.NoError(err)
	suite.Equal([]string{"log.1", "log.2"}, names)

	suite.NoError(fs.Rename("tmp.3", "log.3"))
	names, _ = fs.List("log.")
	suite.Equal([]string{"log.1", "log.2", "log.3"}, names)

	suite.NoError(fs.Remove("log.1"))
	_, err = fs.Open("log.1")
	suite.True(errors.Is(err, ErrNotFound))
	suite.NoError(fs.SyncDir())
}

func TestMemFSFaults(t *testing.T) {
	assert := assert.New(t)
	fs := NewMemFS(4096)
	f, err := fs.Create("f")
	assert.NoError(err)

	_, err = f.WriteAt(pattern(10, 0), 4090)
	assert.Equal(ErrNoSpace, err)

	boom := errors.New("boom")
	fs.FailWrites(boom)
	_, err = f.WriteAt(pattern(10, 0), 0)
	assert.Equal(boom, err)
	fs.FailWrites(nil)

	fs.FailSyncs(boom)
	assert.Equal(boom, f.Sync())
	assert.Equal(boom, fs.SyncDir())
	fs.FailSyncs(nil)
	assert.NoError(fs.SyncDir())
	assert.Equal(uint64(1), fs.DirSyncs())
}

func TestMemFSSharedData(t *testing.T) {
	fs := NewMemFS(4096)
	f, _ := fs.Create("a")
	f.WriteAt([]byte("hello"), 0)
	g, err := fs.Open("a")
	assert.NoError(t, err)
	buf := make([]byte, 5)
	g.ReadAt(buf, 0)
	assert.Equal(t, "hello", string(buf))
	f.Close()
	_, err = f.WriteAt([]byte("x"), 0)
	assert.Equal(t, ErrClosed, err)
}
