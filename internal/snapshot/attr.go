package snapshot

import (
	"os"
	"syscall"
	"time"

	"github.com/distr1/tarsnapfs/internal/archive"
)

// RootInode is the fixed inode number of the mount root, per FUSE
// convention (FUSE_ROOT_ID) and §4.6.
const RootInode uint64 = 1

const defaultBlkSize = 4096

// Kind distinguishes the two inode shapes this filesystem ever presents.
type Kind int

const (
	KindRegular Kind = iota
	KindDir
)

// Attr is the synthesized attribute record for one inode, independent of
// any particular host FUSE binding's attribute struct.
type Attr struct {
	Ino     uint64
	Kind    Kind
	Size    uint64
	Blocks  uint64
	Perm    uint32 // raw low 12 mode bits (setuid/setgid/sticky + permissions)
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	BlkSize uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// deriveIno maps a source filesystem inode number to the virtual archive's
// inode number (§4.6): source_inode << 1, which is always even, keeping it
// distinct from RootInode (1, odd) and injective as long as the source
// inode fits in 63 bits.
func deriveIno(sourceIno uint64) uint64 {
	return sourceIno << 1
}

// deriveAttr builds the synthesized attribute record for a virtual archive
// given the source directory's own metadata and the computed archive size.
func deriveAttr(info os.FileInfo, archiveSize uint64) Attr {
	now := time.Now()
	perm := uint32(info.Mode().Perm())
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		perm = uint32(st.Mode) & 0o7777
	}
	// The virtual object is always a regular file; a source directory's
	// execute ("enterable") bits have no meaning for it.
	if info.Mode().IsDir() {
		perm &^= 0o111
	}

	a := Attr{
		Kind:    KindRegular,
		Size:    archiveSize,
		Perm:    perm,
		Nlink:   1,
		BlkSize: defaultBlkSize,
		Atime:   now,
		Mtime:   info.ModTime(),
		Ctime:   now,
	}
	a.Blocks = (a.Size + uint64(a.BlkSize) - 1) / uint64(a.BlkSize)

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Ino = deriveIno(st.Ino)
		a.UID = st.Uid
		a.GID = st.Gid
		a.Rdev = uint64(st.Rdev)
		if st.Blksize > 0 {
			a.BlkSize = uint32(st.Blksize)
			a.Blocks = (a.Size + uint64(a.BlkSize) - 1) / uint64(a.BlkSize)
		}
	}
	return a
}

// deriveRootAttr builds the mount root's attribute record, synthesized
// fresh on every GetAttr call per the Lifecycle note in §3.
func deriveRootAttr(info os.FileInfo) Attr {
	now := time.Now()
	perm := uint32(info.Mode().Perm())
	a := Attr{
		Ino:     RootInode,
		Kind:    KindDir,
		Perm:    perm,
		Nlink:   1,
		BlkSize: defaultBlkSize,
		Atime:   now,
		Mtime:   info.ModTime(),
		Ctime:   now,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Perm = uint32(st.Mode) & 0o7777
		a.UID = st.Uid
		a.GID = st.Gid
		a.Rdev = uint64(st.Rdev)
	}
	return a
}

// archiveAttr is a convenience composing the two concerns archive entries
// need: a BlockIndex's total size and the source directory's own stat.
func archiveAttr(info os.FileInfo, blocks *archive.BlockIndex) Attr {
	return deriveAttr(info, blocks.TotalSize())
}
