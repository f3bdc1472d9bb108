package archive

import (
	"io"
	"log"
	"os"
	"sort"

	"github.com/distr1/tarsnapfs/internal/walk"
	"golang.org/x/xerrors"
)

// terminatorSize is the tar end-of-archive marker: at least two consecutive
// zero-filled 512-byte records.
const terminatorSize = 1024

// BlockIndex is the ordered, contiguous sequence of Blocks covering one
// virtual archive's tar stream. blocks[0].Offset == 0 and
// blocks[i].Offset+blocks[i].Size == blocks[i+1].Offset for all i.
type BlockIndex struct {
	blocks []Block
	total  uint64
}

// TotalSize returns the full byte length of the archive this index covers.
func (bi *BlockIndex) TotalSize() uint64 { return bi.total }

// Len reports the number of blocks, chiefly for tests asserting on layout.
func (bi *BlockIndex) Len() int { return len(bi.blocks) }

// BlockAt returns the i'th block, for tests.
func (bi *BlockIndex) BlockAt(i int) Block { return bi.blocks[i] }

func (bi *BlockIndex) append(r BlockReader) {
	size := r.Size()
	if size == 0 {
		return
	}
	bi.blocks = append(bi.blocks, Block{Offset: bi.total, Size: size, Reader: r})
	bi.total += size
}

// padToBoundary emits a padding block bringing the running total up to the
// next multiple of blockSize, if it isn't already aligned.
func (bi *BlockIndex) padToBoundary() {
	if rem := bi.total % blockSize; rem != 0 {
		bi.append(PaddingReader(blockSize - rem))
	}
}

// LoadBlocks walks subtreeRoot and builds the BlockIndex for its pax tar
// stream, per §4.3. sourceRoot is the overall source directory; entry paths
// inside the tar are relative to it, so the archived subdirectory's own
// name is preserved as the top-level path component (the conventional tar
// layout for "tar of a directory").
func LoadBlocks(sourceRoot, subtreeRoot string) (*BlockIndex, error) {
	bi := &BlockIndex{}

	prefixLen := len(sourceRoot)
	w := walk.New(subtreeRoot, 0, walk.Unbounded)
	for w.Next() {
		e := w.Entry()
		absPath := subtreeRoot
		if e.Path != "" {
			absPath = subtreeRoot + "/" + e.Path
		}
		relPath := absPath[prefixLen:]
		for len(relPath) > 0 && relPath[0] == '/' {
			relPath = relPath[1:]
		}

		linkTarget := ""
		if e.Info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(absPath)
			if err != nil {
				// Symlink vanished or became unreadable between Lstat and
				// Readlink; treat like any other unreadable entry (log and
				// skip) rather than failing the whole walk.
				log.Printf("archive: reading symlink %s: %v", absPath, err)
				continue
			}
			linkTarget = target
		}

		if !utf8Path(relPath) {
			return nil, xerrors.Errorf("archive: entry %q: %w", relPath, ErrMalformedPath)
		}

		meta := MetaFromInfo(e.Info, linkTarget)
		hdr := NewPaxHeader(relPath, meta)
		for _, r := range hdr.Readers() {
			bi.append(r)
			bi.padToBoundary()
		}

		if meta.IsRegular {
			bi.append(FileReader(absPath, meta.Size))
			bi.padToBoundary()
		}
	}
	if err := w.Err(); err != nil {
		return nil, xerrors.Errorf("archive: walking %s: %w", subtreeRoot, err)
	}

	bi.append(PaddingReader(terminatorSize))
	return bi, nil
}

func utf8Path(p string) bool {
	for _, r := range p {
		if r == 0xFFFD {
			return false
		}
	}
	return true
}

// Read serves a ranged read against the virtual archive described by bi,
// per §4.4.
func Read(bi *BlockIndex, offset uint64, size int) ([]byte, error) {
	if size == 0 || offset >= bi.total {
		return nil, nil
	}

	idx := sort.Search(len(bi.blocks), func(i int) bool { return bi.blocks[i].Offset > offset }) - 1
	if idx < 0 {
		return nil, nil
	}

	local := offset - bi.blocks[idx].Offset
	if local >= bi.blocks[idx].Size {
		return nil, nil
	}

	want := uint64(size)
	if remaining := bi.total - offset; want > remaining {
		want = remaining
	}

	out := make([]byte, want)
	written := uint64(0)
	off := int64(local)

	for i := idx; i < len(bi.blocks) && written < want; i++ {
		b := bi.blocks[i]
		n := b.Size - uint64(off)
		if rem := want - written; n > rem {
			n = rem
		}

		read, err := b.Reader.ReadAt(out[written:written+n], off)
		if err != nil && read == 0 && err != io.EOF {
			return nil, xerrors.Errorf("archive: reading block at offset %d: %w", b.Offset, err)
		}
		if uint64(read) != n {
			return nil, xerrors.Errorf("archive: short read at block offset %d: %w", b.Offset, ErrTransientShortRead)
		}

		written += n
		off = 0
	}

	return out, nil
}
