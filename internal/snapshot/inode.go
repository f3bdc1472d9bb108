package snapshot

import (
	"os"
	"time"

	"github.com/distr1/tarsnapfs/internal/archive"
	"golang.org/x/xerrors"
)

// InodeInfo is one virtual archive's cache entry: the subtree path, its
// computed BlockIndex, the synthesized attributes, and the timestamp of the
// last successful (re)build, per §3.
type InodeInfo struct {
	path      string // absolute path of the archived subdirectory
	name      string // subdir base name, e.g. "mydir" for "mydir.tar"
	blocks    *archive.BlockIndex
	attr      Attr
	timestamp time.Time
}

// buildInodeInfo walks path from scratch and produces a fresh InodeInfo.
// sourceRoot is needed because archive entry paths are relative to it, not
// to the subtree root (§4.3).
func buildInodeInfo(sourceRoot, name string, now time.Time) (*InodeInfo, error) {
	path := sourceRoot + "/" + name

	info, err := os.Lstat(path)
	if err != nil {
		return nil, xerrors.Errorf("snapshot: stat %s: %w", path, err)
	}

	blocks, err := archive.LoadBlocks(sourceRoot, path)
	if err != nil {
		return nil, xerrors.Errorf("snapshot: loading archive for %s: %w", path, err)
	}

	return &InodeInfo{
		path:      path,
		name:      name,
		blocks:    blocks,
		attr:      archiveAttr(info, blocks),
		timestamp: now,
	}, nil
}

// refresh rebuilds ii in place if it is older than timeout, per §4.8. A
// clock that appears to have moved backward is treated defensively as
// outdated, forcing a rebuild rather than risking staleness hiding forever.
func (ii *InodeInfo) refresh(sourceRoot string, now time.Time, timeout time.Duration) error {
	age := now.Sub(ii.timestamp)
	if age >= 0 && age <= timeout {
		return nil
	}

	info, err := os.Lstat(ii.path)
	if err != nil {
		return xerrors.Errorf("snapshot: stat %s: %w", ii.path, err)
	}
	blocks, err := archive.LoadBlocks(sourceRoot, ii.path)
	if err != nil {
		return xerrors.Errorf("snapshot: loading archive for %s: %w", ii.path, err)
	}

	ii.blocks = blocks
	ii.attr = archiveAttr(info, blocks)
	ii.timestamp = now
	return nil
}
