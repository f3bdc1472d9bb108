package walk_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/tarsnapfs/internal/walk"
)

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path string, contents string) {
	t.Helper()
	if err := ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func collect(w *walk.Walker) []string {
	var got []string
	for w.Next() {
		got = append(got, w.Entry().Path)
	}
	return got
}

func TestWalkerPreOrder(t *testing.T) {
	root, err := ioutil.TempDir("", "walktest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	mustMkdir(t, filepath.Join(root, "b"))
	mustMkdir(t, filepath.Join(root, "a", "nested"))
	mustWrite(t, filepath.Join(root, "a", "file.txt"), "hi")
	mustWrite(t, filepath.Join(root, "a", "nested", "deep.txt"), "deep")
	mustWrite(t, filepath.Join(root, "top.txt"), "top")

	w := walk.New(root, 0, walk.Unbounded)
	got := collect(w)
	if err := w.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	want := []string{
		"",
		"a",
		"a/file.txt",
		"a/nested",
		"a/nested/deep.txt",
		"b",
		"top.txt",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v entries, want %v: %v vs %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestWalkerMinDepthExcludesRoot(t *testing.T) {
	root, err := ioutil.TempDir("", "walktest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	mustWrite(t, filepath.Join(root, "f.txt"), "x")

	w := walk.New(root, 1, walk.Unbounded)
	got := collect(w)
	if len(got) != 1 || got[0] != "f.txt" {
		t.Fatalf("got %v, want [f.txt]", got)
	}
}

func TestWalkerMaxDepthStopsDescent(t *testing.T) {
	root, err := ioutil.TempDir("", "walktest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	mustMkdir(t, filepath.Join(root, "a", "nested"))
	mustWrite(t, filepath.Join(root, "a", "nested", "deep.txt"), "deep")

	w := walk.New(root, 0, 1)
	got := collect(w)
	want := []string{"", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWalkerSkipsUnreadableSubdir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission enforcement does not apply when running as root")
	}

	root, err := ioutil.TempDir("", "walktest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	blocked := filepath.Join(root, "blocked")
	mustMkdir(t, blocked)
	mustWrite(t, filepath.Join(blocked, "secret.txt"), "nope")
	if err := os.Chmod(blocked, 0000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(blocked, 0755)

	mustWrite(t, filepath.Join(root, "visible.txt"), "ok")

	w := walk.New(root, 0, walk.Unbounded)
	got := collect(w)
	if err := w.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil (per-entry errors should not be fatal)", err)
	}

	for _, p := range got {
		if p == "blocked/secret.txt" {
			t.Fatalf("walk yielded an entry inside an unreadable directory: %v", got)
		}
	}
}
