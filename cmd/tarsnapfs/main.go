// Command tarsnapfs mounts a read-only FUSE filesystem that presents every
// immediate subdirectory of a source directory as a synthesized pax tar
// archive, built on demand and never written to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tarfuse "github.com/distr1/tarsnapfs/internal/fuse"
	"github.com/distr1/tarsnapfs/internal/snapshot"
)

const help = `tarsnapfs -source <dir> [-flags] <mountpoint>

Mount a tar-snapshot file system: every immediate subdirectory of -source
appears at <mountpoint> as "<name>.tar", a pax tar stream synthesized on
read, never materialized on disk.

Example:
  % tarsnapfs -source /srv/projects /mnt/projects-tar
`

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fset := flag.NewFlagSet("tarsnapfs", flag.ExitOnError)
	var (
		source  = fset.String("source", "", "directory whose immediate subdirectories are exposed as tar archives")
		timeout = fset.Duration("timeout", snapshot.DefaultTimeout, "cache lifetime for synthesized archive metadata and content")
		debug   = fset.Bool("debug", false, "log every FUSE op to stderr")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *source == "" || fset.NArg() != 1 {
		fset.Usage()
		return fmt.Errorf("tarsnapfs: -source and a mountpoint are required")
	}
	mountpoint := fset.Arg(0)

	if _, err := os.Stat(*source); err != nil {
		return fmt.Errorf("tarsnapfs: source directory: %w", err)
	}

	fs := snapshot.New(*source, *timeout)
	adapter, err := tarfuse.Mount(fs, mountpoint, *debug)
	if err != nil {
		return fmt.Errorf("tarsnapfs: mount: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		if err := adapter.Unmount(); err != nil {
			log.Printf("tarsnapfs: unmount: %v", err)
		}
	}()

	log.Printf("tarsnapfs: mounted %s on %s (cache timeout %s)", *source, mountpoint, *timeout)

	if err := adapter.Join(context.Background()); err != nil {
		return fmt.Errorf("tarsnapfs: %w", err)
	}
	return nil
}
