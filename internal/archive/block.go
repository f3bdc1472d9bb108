package archive

import "os"

// readerKind tags the three closed BlockReader variants described in §9
// design notes: a small match instead of dynamic dispatch through an
// interface hierarchy, since the set of reader shapes never grows.
type readerKind int

const (
	kindFile readerKind = iota
	kindHeader
	kindPadding
)

// BlockReader pulls bytes for one Block on demand. It owns no file
// descriptors between reads (the File variant opens fresh per call) and
// owns its bytes outright (the Header variant), per the design notes on
// avoiding lifetime coupling.
type BlockReader struct {
	kind readerKind
	path string // kindFile
	data []byte // kindHeader
	size uint64 // kindFile size, kindPadding size; redundant with len(data) for kindHeader
}

// FileReader returns a BlockReader that reads size bytes from path, opening
// it fresh for every call.
func FileReader(path string, size uint64) BlockReader {
	return BlockReader{kind: kindFile, path: path, size: size}
}

// HeaderReader returns a BlockReader that serves bytes from an owned,
// immutable buffer (a ustar record or a pax attribute payload).
func HeaderReader(data []byte) BlockReader {
	owned := make([]byte, len(data))
	copy(owned, data)
	return BlockReader{kind: kindHeader, data: owned, size: uint64(len(owned))}
}

// PaddingReader returns a BlockReader that always reads as zeros.
func PaddingReader(size uint64) BlockReader {
	return BlockReader{kind: kindPadding, size: size}
}

// Size reports the number of bytes this reader covers.
func (r BlockReader) Size() uint64 { return r.size }

// ReadAt fills buf from offset off within this reader's span. Callers (via
// Read, §4.4) guarantee off+len(buf) <= Size() for the Header and Padding
// variants; the File variant may legitimately return fewer bytes if the
// underlying file has shrunk, which the caller surfaces as
// ErrTransientShortRead.
func (r BlockReader) ReadAt(buf []byte, off int64) (int, error) {
	switch r.kind {
	case kindFile:
		f, err := os.Open(r.path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return f.ReadAt(buf, off)
	case kindHeader:
		n := copy(buf, r.data[off:])
		return n, nil
	case kindPadding:
		// buf is assumed pre-zeroed by the caller.
		return len(buf), nil
	default:
		panic("archive: unknown BlockReader kind")
	}
}

// Block is a contiguous span of the virtual archive's byte stream.
type Block struct {
	Offset uint64
	Size   uint64
	Reader BlockReader
}
