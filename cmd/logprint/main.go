// Command logprint prints the records of a slot log directory, or of one
// memory-mapped log file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mit-pdos/go-slotlog/config"
	"github.com/mit-pdos/go-slotlog/disk"
	"github.com/mit-pdos/go-slotlog/logfile"
	"github.com/mit-pdos/go-slotlog/lsn"
	"github.com/mit-pdos/go-slotlog/record"
	"github.com/mit-pdos/go-slotlog/scan"
	"github.com/mit-pdos/go-slotlog/util"
)

func printRecord(w io.Writer, r scan.Record) error {
	fmt.Fprintf(w, "%v len=%d flags=%#x ", r.LSN, r.Header.Len, r.Header.Flags)
	if err := record.Print(w, r.Payload); err != nil {
		fmt.Fprintf(w, "<%v>", err)
	}
	_, err := fmt.Fprintln(w)
	return err
}

func printFile(w io.Writer, path string, c record.Compressor) (lsn.LSN, error) {
	id, err := logfile.ParseID(filepath.Base(path))
	if err != nil {
		return lsn.LSN{}, err
	}
	mf, err := scan.OpenMapped(path)
	if err != nil {
		return lsn.LSN{}, err
	}
	defer mf.Close()
	return scan.ScanFile(mf, mf.Size(), lsn.MkLSN(id, 0), c, func(r scan.Record) error {
		return printRecord(w, r)
	})
}

func printDir(w io.Writer, dir string, c record.Compressor) (lsn.LSN, error) {
	fs, err := disk.NewUnixFS(dir)
	if err != nil {
		return lsn.LSN{}, err
	}
	defer fs.Close()
	return scan.Scan(fs, lsn.Zero(), c, func(r scan.Record) error {
		return printRecord(w, r)
	})
}

func main() {
	cfgPath := flag.String("config", "", "config file (yaml, toml or json)")
	dir := flag.String("dir", "", "log directory (default: base.dir from the config)")
	file := flag.String("file", "", "print a single log file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer logger.Sync()
		util.SetLogger(logger)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *dir == "" {
		*dir = cfg.Dir
	}
	c, err := record.LookupCompressor(cfg.Log.Compressor)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	var end lsn.LSN
	if *file != "" {
		end, err = printFile(w, *file, c)
	} else {
		end, err = printDir(w, *dir, c)
	}
	w.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logprint: stopped at %v: %v\n", end, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "end of log %v\n", end)
}
