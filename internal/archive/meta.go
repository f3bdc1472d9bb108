package archive

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"
)

// FileMeta is the subset of POSIX metadata a pax/ustar header needs,
// extracted once from an os.FileInfo so the header builder doesn't need to
// know about os.FileInfo or syscall.Stat_t.
type FileMeta struct {
	Mode     uint32 // permission bits only (low 12 bits)
	IsDir    bool
	IsSymlink bool
	IsRegular bool
	LinkName string
	Size     uint64
	ModTime  time.Time
	UID, GID uint32
	Uname, Gname string

	// Ino/Dev are the source filesystem's raw identifiers, used by the
	// snapshot cache to derive a stable virtual inode number (§4.6) and
	// are not written into the tar stream.
	Ino uint64
	Dev uint64
}

// usernameCache and groupnameCache avoid a syscall per entry for the common
// case of a subtree owned by a handful of users. Lookups are best-effort: a
// failed lookup is cached as the empty name.
var (
	usernameCache  = map[uint32]string{}
	groupnameCache = map[uint32]string{}
)

func lookupUname(uid uint32) string {
	if n, ok := usernameCache[uid]; ok {
		return n
	}
	n := ""
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		n = u.Username
	}
	usernameCache[uid] = n
	return n
}

func lookupGname(gid uint32) string {
	if n, ok := groupnameCache[gid]; ok {
		return n
	}
	n := ""
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		n = g.Name
	}
	groupnameCache[gid] = n
	return n
}

// MetaFromInfo extracts FileMeta from a Lstat-style os.FileInfo (symlinks
// not followed). For symlinks, linkTarget must be supplied by the caller
// (os.Readlink), since os.FileInfo carries no link target.
func MetaFromInfo(info os.FileInfo, linkTarget string) FileMeta {
	m := FileMeta{
		Mode:      uint32(info.Mode().Perm()),
		IsDir:     info.Mode().IsDir(),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
		IsRegular: info.Mode().IsRegular(),
		LinkName:  linkTarget,
		Size:      uint64(info.Size()),
		ModTime:   info.ModTime(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		// st.Mode carries the full 12 low bits (setuid/setgid/sticky plus
		// the 9 permission bits); os.FileMode.Perm() only keeps the low 9,
		// so the raw field is pulled directly rather than going through it.
		m.Mode = uint32(st.Mode) & 0o7777
		m.UID = st.Uid
		m.GID = st.Gid
		m.Ino = st.Ino
		m.Dev = uint64(st.Dev)
	}
	m.Uname = lookupUname(m.UID)
	m.Gname = lookupGname(m.GID)
	return m
}
