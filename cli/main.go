package main

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tabmap"
)

const usage = `usage: tabmap-cli [-config file.ini] <command> args...

commands:
  check file...              verify index and object structure
  stats file...              print page and object counts
  snapshot [-c alg] file out write a compressed page snapshot
  restore snapshot file      rebuild a map file from a snapshot
`

func main() {
	config := flag.String("config", "", "ini file with a [mapfile] section")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	opts := tabmap.DefaultOptions
	if *config != "" {
		var err error
		if opts, err = tabmap.LoadOptions(*config); err != nil {
			log.Fatal(err)
		}
		if l, ok := opts.Logger.(*log.Logger); ok {
			log.SetLevel(l.GetLevel())
		}
	}

	args := flag.Args()
	var err error
	switch args[0] {
	case "check":
		err = forEach(args[1:], opts, func(m *tabmap.MapFile) (string, error) {
			return "ok", m.Check()
		})
	case "stats":
		err = forEach(args[1:], opts, func(m *tabmap.MapFile) (string, error) {
			st, err := m.Stats()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%+v", *st), nil
		})
	case "snapshot":
		err = snapshot(args[1:], opts)
	case "restore":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		err = restore(args[1], args[2])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// forEach opens every file read only in its own goroutine and prints what
// fn reports for it.
func forEach(paths []string, opts *tabmap.Options, fn func(m *tabmap.MapFile) (string, error)) error {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			m, err := tabmap.Open(path, tabmap.ModeRead, opts)
			if err != nil {
				return errors.Wrap(err, path)
			}
			defer m.Close()
			if m.NoGeometry() {
				return errors.Errorf("%s: no such map file", path)
			}
			out, err := fn(m)
			if err != nil {
				return errors.Wrap(err, path)
			}
			mu.Lock()
			fmt.Printf("%s: %s\n", path, out)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func snapshot(args []string, opts *tabmap.Options) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	name := fs.String("c", "snappy", "compression: snappy, lz4 or none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("snapshot needs a map file and an output file")
	}
	alg, err := tabmap.ParseCompressAlgorithm(*name)
	if err != nil {
		return err
	}
	m, err := tabmap.Open(fs.Arg(0), tabmap.ModeRead, opts)
	if err != nil {
		return err
	}
	defer m.Close()
	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return err
	}
	if err := m.Snapshot(out, alg); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func restore(in, path string) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := tabmap.RestoreSnapshot(f, path); err != nil {
		return err
	}
	m, err := tabmap.Open(path, tabmap.ModeRead, nil)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Check()
}
