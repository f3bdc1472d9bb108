// Package fuse adapts a *snapshot.SnapshotFS onto jacobsa/fuse's
// fuseops.FileSystem interface: the only package in this tree importing
// jacobsa/fuse, keeping the core engine free of any FUSE dependency.
package fuse

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/tarsnapfs/internal/snapshot"
)

// AttrExpiration controls how long the kernel may cache attribute and
// directory-entry lookups. It equals snapshot.DefaultTimeout; it stays at one
// second when the SnapshotFS is built with a different timeout.
const AttrExpiration = time.Second

// fuseFS implements fuseops.FileSystem over a single SnapshotFS. It embeds
// NotImplementedFileSystem so that mutating operations the virtual
// filesystem never supports (Mkdir, Write, SetInodeAttributes, ...) report
// ENOSYS without each needing its own stub.
type fuseFS struct {
	fuseutil.NotImplementedFileSystem

	fs         *snapshot.SnapshotFS
	attrExpiry time.Duration
}

// Adapter owns the mounted jacobsa/fuse server and the directory it was
// mounted at, bundling the lifecycle calls a CLI entrypoint needs.
type Adapter struct {
	mountpoint string
	mfs        *fuse.MountedFileSystem
}

// Mount synthesizes a fuseFS over fs and mounts it read-only at mountpoint,
// mirroring cmd/distri/internal/fuse/fuse.go's Mount shape: MountConfig,
// plus an Adapter whose Join unmounts on return. Unlike that squashfs-backed
// filesystem, OpenFile is not skipped: opening a virtual archive is the
// refresh point for its cached InodeInfo, per the cache contract.
func Mount(fs *snapshot.SnapshotFS, mountpoint string, debug bool) (*Adapter, error) {
	impl := &fuseFS{fs: fs, attrExpiry: AttrExpiration}
	server := fuseutil.NewFileSystemServer(impl)

	cfg := &fuse.MountConfig{
		FSName:   "tarsnapfs",
		ReadOnly: true,
		Options: map[string]string{
			"allow_other": "",
		},
	}
	if debug {
		cfg.DebugLogger = log.New(os.Stderr, "[fuse] ", log.LstdFlags)
	}

	mfs, err := fuse.Mount(mountpoint, server, cfg)
	if err != nil {
		return nil, xerrors.Errorf("fuse.Mount: %w", err)
	}
	return &Adapter{mountpoint: mountpoint, mfs: mfs}, nil
}

// Join blocks until the mount is unmounted, then calls fuse.Unmount once more;
// if that fails (for example because the mount is already gone) the error is
// only logged.
func (a *Adapter) Join(ctx context.Context) error {
	defer func() {
		if err := fuse.Unmount(a.mountpoint); err != nil {
			log.Printf("fuse.Unmount: %v", err)
		}
	}()
	return a.mfs.Join(ctx)
}

// Unmount requests a clean unmount, causing a blocked Join to return. Safe
// to call from a signal handler.
func (a *Adapter) Unmount() error {
	return fuse.Unmount(a.mountpoint)
}

// errno maps this tree's error kinds onto the syscall.Errno values jacobsa/fuse
// expects ops to return, per the host-boundary error mapping.
func errno(err error) error {
	if err == nil {
		return nil
	}
	if xerrors.Is(err, snapshot.ErrNotFound) {
		return fuse.ENOENT
	}

	// A source I/O failure (stat/open/read against the real filesystem)
	// carries its own syscall.Errno through the wrapped error chain;
	// passing it through verbatim gives the caller the real errno instead
	// of a generic EIO, mirroring snapshot_fs.rs's raw_os_error passthrough.
	var eno syscall.Errno
	if xerrors.As(err, &eno) {
		return eno
	}
	log.Printf("tarsnapfs: %v", err)
	return fuse.EIO
}

// unixPermToFileMode remaps the raw low-12 Unix mode bits a.Perm carries
// (setuid 0o4000/setgid 0o2000/sticky 0o1000 plus the 9 permission bits)
// onto os.FileMode's own bit positions for those same attributes, the way
// KarpelesLab-squashfs's UnixToMode does for its inode modes.
func unixPermToFileMode(perm uint32) os.FileMode {
	mode := os.FileMode(perm & 0o777)
	if perm&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if perm&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if perm&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func toFuseAttr(a snapshot.Attr) fuseops.InodeAttributes {
	mode := unixPermToFileMode(a.Perm)
	if a.Kind == snapshot.KindDir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: uint64(a.Nlink),
		Mode:  mode,
		Atime: a.Atime,
		Mtime: a.Mtime,
		Ctime: a.Ctime,
		Uid:   a.UID,
		Gid:   a.GID,
	}
}

func (fs *fuseFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	var st unix.Statfs_t
	if err := unix.Statfs("/", &st); err != nil {
		// A failing passthrough statfs is not fatal: report conservative
		// defaults rather than failing every `stat -f` on the mount.
		op.BlockSize = 4096
		op.IoSize = 65536
		return nil
	}
	op.BlockSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.IoSize = 65536
	return nil
}

func (fs *fuseFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	attr, err := fs.fs.Lookup(op.Name)
	if err != nil {
		return errno(err)
	}
	op.Entry.Child = fuseops.InodeID(attr.Ino)
	op.Entry.Attributes = toFuseAttr(attr)
	op.Entry.AttributesExpiration = time.Now().Add(fs.attrExpiry)
	op.Entry.EntryExpiration = time.Now().Add(fs.attrExpiry)
	return nil
}

func (fs *fuseFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	attr, err := fs.fs.GetAttr(uint64(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = toFuseAttr(attr)
	op.AttributesExpiration = time.Now().Add(fs.attrExpiry)
	return nil
}

// ForgetInode is a no-op: the cache's own TTL sweep (run from ReadDir) is
// the only eviction path, per the garbage-collection policy this tree
// implements instead of kernel-forget-driven eviction.
func (fs *fuseFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *fuseFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return nil
}

func (fs *fuseFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	var entries []fuseutil.Dirent
	err := fs.fs.ReadDir(int(op.Offset), func(e snapshot.DirEntry) bool {
		typ := fuseutil.DT_File
		if e.Dir {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(len(entries)) + 1,
			Inode:  fuseops.InodeID(e.Ino),
			Name:   e.Name,
			Type:   typ,
		})
		return true
	})
	if err != nil {
		return errno(err)
	}

	for _, e := range entries {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fuseFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if err := fs.fs.Open(uint64(op.Inode)); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *fuseFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	if op.Offset < 0 {
		return fuse.EIO
	}
	data, err := fs.fs.Read(uint64(op.Inode), uint64(op.Offset), len(op.Dst))
	if err != nil {
		return errno(err)
	}
	n := copy(op.Dst, data)
	op.BytesRead = n
	return nil
}
