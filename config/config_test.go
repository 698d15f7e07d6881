package config

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-slotlog/wal"
)

func writeFile(t *testing.T, name, contents string) string {
	dir, err := ioutil.TempDir("", "slotlog-config")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ".", cfg.Dir)
	assert.Equal(t, wal.DefaultConfig(), cfg.Log)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "log.yaml", `
base:
  dir: /var/lib/slotlog
log:
  file_max: 4mb
  slot_buf_size: 65536
  pool_size: 16
  compressor: zstd
  archive: false
  sync_interval: 10ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/slotlog", cfg.Dir)
	assert.Equal(t, int64(4<<20), cfg.Log.FileMax)
	assert.Equal(t, int64(65536), cfg.Log.SlotBufSize)
	assert.Equal(t, 16, cfg.Log.PoolSize)
	assert.Equal(t, "zstd", cfg.Log.Compressor)
	assert.False(t, cfg.Log.Archive)
	assert.True(t, cfg.Log.Prealloc, "unset keys keep defaults")
	assert.Equal(t, 10*time.Millisecond, cfg.Log.SyncInterval)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "log.toml", `
[log]
pool_size = 4
force_consolidate = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Log.PoolSize)
	assert.True(t, cfg.Log.ForceConsolidate)
}

func TestLoadInvalid(t *testing.T) {
	path := writeFile(t, "log.json", `{"log": {"pool_size": 1}}`)
	_, err := Load(path)
	assert.True(t, errors.Is(err, wal.ErrConfig))

	_, err = Load(filepath.Join(os.TempDir(), "no-such-slotlog.yaml"))
	assert.Error(t, err)
}
