package fuse_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tarfuse "github.com/distr1/tarsnapfs/internal/fuse"
	"github.com/distr1/tarsnapfs/internal/snapshot"
)

// mount brings up a tarsnapfs mount over source at a fresh temp mountpoint,
// skipping the test (rather than failing it) when the environment has no
// usable /dev/fuse.
func mount(t *testing.T, source string) (mountpoint string, adapter *tarfuse.Adapter) {
	t.Helper()

	mountpoint, err := ioutil.TempDir("", "tarsnapfs-mnt")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(mountpoint) })

	fs := snapshot.New(source, 100*time.Millisecond)
	adapter, err = tarfuse.Mount(fs, mountpoint, false)
	if err != nil {
		if strings.Contains(err.Error(), "fuse") || strings.Contains(err.Error(), "permission") {
			t.Skipf("skipping: FUSE unavailable in this environment: %v", err)
		}
		t.Fatalf("Mount: %v", err)
	}

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		adapter.Join(context.Background())
	}()
	t.Cleanup(func() {
		adapter.Unmount()
		<-joined
	})

	return mountpoint, adapter
}

func TestMountListsSubdirsAsTarFiles(t *testing.T) {
	source, err := ioutil.TempDir("", "tarsnapfs-src")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(source)

	if err := os.Mkdir(filepath.Join(source, "proj"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(source, "proj", "readme.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	mountpoint, _ := mount(t, source)

	entries, err := ioutil.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir(mountpoint): %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "proj.tar" {
		t.Fatalf("mountpoint entries = %v, want exactly [proj.tar]", entries)
	}

	fi, err := os.Stat(filepath.Join(mountpoint, "proj.tar"))
	if err != nil {
		t.Fatalf("Stat(proj.tar): %v", err)
	}
	if fi.Size() == 0 {
		t.Errorf("proj.tar reports size 0, want a nonzero synthesized tar stream")
	}

	data, err := ioutil.ReadFile(filepath.Join(mountpoint, "proj.tar"))
	if err != nil {
		t.Fatalf("ReadFile(proj.tar): %v", err)
	}
	if !strings.Contains(string(data), "readme.txt") {
		t.Errorf("proj.tar does not contain the expected entry name readme.txt")
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("proj.tar does not contain the expected file contents")
	}
}

func TestMountReportsNotFoundForUnknownEntry(t *testing.T) {
	source, err := ioutil.TempDir("", "tarsnapfs-src")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(source)

	mountpoint, _ := mount(t, source)

	if _, err := os.Stat(filepath.Join(mountpoint, "nope.tar")); !os.IsNotExist(err) {
		t.Errorf("Stat(nope.tar) = %v, want IsNotExist", err)
	}
}
