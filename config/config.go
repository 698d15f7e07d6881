// Package config loads log settings from a configuration file.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/mit-pdos/go-slotlog/util"
	"github.com/mit-pdos/go-slotlog/wal"
)

type Config struct {
	Dir string // log directory
	Log wal.Config
}

func setDefaults(v *viper.Viper) {
	d := wal.DefaultConfig()
	v.SetDefault("base.dir", ".")
	v.SetDefault("log.file_max", d.FileMax)
	v.SetDefault("log.slot_buf_size", d.SlotBufSize)
	v.SetDefault("log.pool_size", d.PoolSize)
	v.SetDefault("log.force_consolidate", d.ForceConsolidate)
	v.SetDefault("log.compressor", d.Compressor)
	v.SetDefault("log.archive", d.Archive)
	v.SetDefault("log.prealloc", d.Prealloc)
	v.SetDefault("log.sync_interval", d.SyncInterval)
}

func loadConfig(v *viper.Viper) Config {
	var cfg Config
	cfg.Dir = v.GetString("base.dir")

	// sizes accept plain byte counts or units such as "64kb"
	cfg.Log.FileMax = int64(v.GetSizeInBytes("log.file_max"))
	cfg.Log.SlotBufSize = int64(v.GetSizeInBytes("log.slot_buf_size"))
	cfg.Log.PoolSize = v.GetInt("log.pool_size")
	cfg.Log.ForceConsolidate = v.GetBool("log.force_consolidate")
	cfg.Log.Compressor = v.GetString("log.compressor")
	cfg.Log.Archive = v.GetBool("log.archive")
	cfg.Log.Prealloc = v.GetBool("log.prealloc")
	cfg.Log.SyncInterval = v.GetDuration("log.sync_interval")
	return cfg
}

// Default returns the configuration used when no file is given.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	return loadConfig(v)
}

// Load reads the file at path (YAML, TOML or JSON, by extension); settings
// it leaves out keep their defaults. The result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := loadConfig(v)
	if err := cfg.Log.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	util.DPrintf(1, "config: loaded %s: %+v\n", path, cfg)
	return cfg, nil
}
