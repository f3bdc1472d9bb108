package snapshot

import "golang.org/x/xerrors"

// ErrNotFound is returned for a missing inode or name, mapping to ENOENT at
// the FUSE adapter boundary (§7).
var ErrNotFound = xerrors.New("snapshot: not found")
