// Package snapshot implements the virtual archive engine's host-facing
// contract: a time-bounded cache of InodeInfo records, mapping opaque inode
// numbers and names to synthesized tar archives, per §3 and §4.6-§4.8.
//
// This package has no FUSE dependency; internal/fuse is the only package
// that translates these calls into fuseops.FileSystem methods.
package snapshot

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/distr1/tarsnapfs/internal/archive"
	"golang.org/x/xerrors"
)

// DefaultTimeout is the TTL applied when the zero value is passed to New,
// per §6's configuration surface.
const DefaultTimeout = time.Second

// SnapshotFS is the top-level filesystem state: the source root, cache
// timeout, and the inode/name maps, protected by a single exclusive lock,
// per §5. Every operation that touches the maps or an InodeInfo holds it
// while doing so; Read releases it before reading the archive bytes (see
// Read), and GetAttr for the root inode, which touches neither, does not
// take it.
type SnapshotFS struct {
	sourceRoot string
	timeout    time.Duration

	mu       sync.Mutex
	inodeMap map[uint64]*InodeInfo
	nameMap  map[string]uint64
}

// New constructs a SnapshotFS rooted at sourceRoot. A zero timeout is
// replaced with DefaultTimeout.
func New(sourceRoot string, timeout time.Duration) *SnapshotFS {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SnapshotFS{
		sourceRoot: strings.TrimRight(sourceRoot, "/"),
		timeout:    timeout,
		inodeMap:   make(map[uint64]*InodeInfo),
		nameMap:    make(map[string]uint64),
	}
}

// subdirName strips the ".tar" suffix addressed by a lookup, e.g. "a.tar"
// -> "a". Names without the suffix never resolve (§4.7: "Strip a trailing
// .tar extension from name").
func subdirName(name string) (string, bool) {
	const suffix = ".tar"
	if !strings.HasSuffix(name, suffix) || name == suffix {
		return "", false
	}
	return strings.TrimSuffix(name, suffix), true
}

// Lookup resolves one child of the mount root by its "<name>.tar" entry
// name, per §4.7.
func (fs *SnapshotFS) Lookup(name string) (Attr, error) {
	subdir, ok := subdirName(name)
	if !ok {
		return Attr{}, ErrNotFound
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()

	if ino, ok := fs.nameMap[subdir]; ok {
		info := fs.inodeMap[ino]
		if err := info.refresh(fs.sourceRoot, now, fs.timeout); err != nil {
			delete(fs.inodeMap, ino)
			delete(fs.nameMap, subdir)
			return Attr{}, err
		}
		return info.attr, nil
	}

	if !fs.childExists(subdir) {
		return Attr{}, ErrNotFound
	}

	info, err := buildInodeInfo(fs.sourceRoot, subdir, now)
	if err != nil {
		return Attr{}, err
	}
	fs.inodeMap[info.attr.Ino] = info
	fs.nameMap[subdir] = info.attr.Ino
	return info.attr, nil
}

func (fs *SnapshotFS) childExists(name string) bool {
	st, err := os.Lstat(fs.sourceRoot + "/" + name)
	return err == nil && st.IsDir()
}

// GetAttr refreshes and returns the attribute record for ino, per §4.7.
func (fs *SnapshotFS) GetAttr(ino uint64) (Attr, error) {
	if ino == RootInode {
		info, err := os.Lstat(fs.sourceRoot)
		if err != nil {
			return Attr{}, xerrors.Errorf("snapshot: stat source root: %w", err)
		}
		return deriveRootAttr(info), nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.inodeMap[ino]
	if !ok {
		return Attr{}, ErrNotFound
	}

	now := time.Now()
	if err := info.refresh(fs.sourceRoot, now, fs.timeout); err != nil {
		fs.evictLocked(ino)
		return Attr{}, err
	}
	return info.attr, nil
}

// DirEntry is one entry yielded by ReadDir.
type DirEntry struct {
	Ino  uint64
	Name string
	Dir  bool
}

// ReadDir lists the mount root's entries starting after offset, calling
// emit for each until it returns false or entries are exhausted, per §4.7.
// Garbage collection runs first, per §4.8.
func (fs *SnapshotFS) ReadDir(offset int, emit func(DirEntry) bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	fs.gcLocked(now)

	entries := []DirEntry{
		{Ino: RootInode, Name: ".", Dir: true},
		{Ino: RootInode, Name: "..", Dir: true},
	}

	dents, err := os.ReadDir(fs.sourceRoot)
	if err != nil {
		return xerrors.Errorf("snapshot: reading source root: %w", err)
	}
	for _, d := range dents {
		if !d.IsDir() {
			continue
		}
		info, err := fs.getOrBuildLocked(d.Name(), now)
		if err != nil {
			continue // dropped without logging; a partial listing beats a failed readdir
		}
		entries = append(entries, DirEntry{Ino: info.attr.Ino, Name: d.Name() + ".tar", Dir: false})
	}

	if offset > len(entries) {
		offset = len(entries)
	}
	for _, e := range entries[offset:] {
		if !emit(e) {
			return nil
		}
	}
	return nil
}

// getOrBuildLocked returns the cached InodeInfo for name, building and
// caching one if absent. Caller holds fs.mu.
func (fs *SnapshotFS) getOrBuildLocked(name string, now time.Time) (*InodeInfo, error) {
	if ino, ok := fs.nameMap[name]; ok {
		info := fs.inodeMap[ino]
		return info, nil
	}
	info, err := buildInodeInfo(fs.sourceRoot, name, now)
	if err != nil {
		return nil, err
	}
	fs.inodeMap[info.attr.Ino] = info
	fs.nameMap[name] = info.attr.Ino
	return info, nil
}

// Open refreshes the cached InodeInfo for ino, per §4.7. The core uses only
// ino for subsequent reads, so the returned handle is always 0.
func (fs *SnapshotFS) Open(ino uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.inodeMap[ino]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	if err := info.refresh(fs.sourceRoot, now, fs.timeout); err != nil {
		fs.evictLocked(ino)
		return err
	}
	return nil
}

// Read serves a ranged read against ino's virtual archive, per §4.4/§4.7.
// Read-path errors do not evict the cache entry; the next TTL-triggered
// refresh is the eviction signal, per §7.
func (fs *SnapshotFS) Read(ino uint64, offset uint64, size int) ([]byte, error) {
	fs.mu.Lock()
	info, ok := fs.inodeMap[ino]
	var blocks *archive.BlockIndex
	if ok {
		// refresh (called under fs.mu from Lookup/GetAttr/Open) replaces
		// ii.blocks wholesale rather than mutating it in place, so copying
		// the pointer while still holding the lock is enough to read it
		// safely after unlocking.
		blocks = info.blocks
	}
	fs.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return archive.Read(blocks, offset, size)
}

// evictLocked drops ino and any name_map entry pointing to it. Caller
// holds fs.mu.
func (fs *SnapshotFS) evictLocked(ino uint64) {
	if info, ok := fs.inodeMap[ino]; ok {
		delete(fs.nameMap, info.name)
	}
	delete(fs.inodeMap, ino)
}

// gcLocked drops every InodeInfo older than the timeout, bounding cache
// memory to the recently-accessed working set, per §4.8. Caller holds
// fs.mu.
func (fs *SnapshotFS) gcLocked(now time.Time) {
	for ino, info := range fs.inodeMap {
		if now.Sub(info.timestamp) > fs.timeout {
			fs.evictLocked(ino)
		}
	}
}
