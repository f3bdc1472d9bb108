package archive

import (
	"fmt"
	"path"
	"strconv"
)

// blockSize is the tar record size: every header and every padding run is a
// multiple of it.
const blockSize = 512

// ustar type flags, POSIX.1-2001 §10.1.1.
const (
	typeRegular = '0'
	typeSymlink = '2'
	typeDir     = '5'
	typeXHeader = 'x'
)

// longPathThreshold is the path length at which PaxHeader switches from the
// plain ustar form to the pax-extended form; ustar's name field tops out at
// 100 bytes.
const longPathThreshold = 100

// PaxAttr is an append-only buffer of self-describing pax extended-header
// records, each of the form "<len> <key>=<value>\n" where <len> is the
// decimal length of the whole record, including itself.
type PaxAttr struct {
	buf []byte
}

// Add appends one record for key=value, computing the minimal self-
// referential length prefix.
func (p *PaxAttr) Add(key, value string) {
	rest := len(key) + len(value) + 3 // ' ', '=', '\n'
	width := 1
	for rest+width >= pow10(width) {
		width++
	}
	total := rest + width
	p.buf = append(p.buf, fmt.Sprintf("%d %s=%s\n", total, key, value)...)
}

// Bytes returns the accumulated record buffer.
func (p *PaxAttr) Bytes() []byte { return p.buf }

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// PaxHeader is the header portion of one tar entry: either a single ustar
// record, or a three-part pax-extended sequence (x-header, attribute
// payload, ustar record) when the path is too long for ustar's name field.
type PaxHeader struct {
	records []BlockReader
}

// Readers returns the header's logical blocks in stream order. Content
// blocks (for regular files) are not included; the caller appends those
// separately per §4.3.
func (h *PaxHeader) Readers() []BlockReader { return h.records }

// NewPaxHeader builds the header for one subtree entry. relPath is the
// entry's path as it should appear inside the tar stream (already relative
// to the archived subtree's parent, i.e. including the subdir name).
func NewPaxHeader(relPath string, meta FileMeta) *PaxHeader {
	typeFlag := entryTypeFlag(meta)

	// Only a regular file's header advertises a nonzero size: directories
	// and symlinks carry no content block (index.go only appends one
	// if meta.IsRegular), so a nonzero size here would misalign every
	// entry that follows in a standards-compliant reader.
	entrySize := meta.Size
	if !meta.IsRegular {
		entrySize = 0
	}

	if len(relPath) < longPathThreshold {
		hdr := buildUstarHeader(relPath, entrySize, typeFlag, meta.LinkName, meta)
		return &PaxHeader{records: []BlockReader{HeaderReader(hdr[:])}}
	}

	var attr PaxAttr
	attr.Add("path", relPath)
	payload := attr.Bytes()

	xHdr := buildUstarHeader(syntheticShortName(relPath), uint64(len(payload)), typeXHeader, "", meta)
	fileHdr := buildUstarHeader(truncateName(relPath), entrySize, typeFlag, meta.LinkName, meta)

	return &PaxHeader{records: []BlockReader{
		HeaderReader(xHdr[:]),
		HeaderReader(payload),
		HeaderReader(fileHdr[:]),
	}}
}

func entryTypeFlag(meta FileMeta) byte {
	switch {
	case meta.IsDir:
		return typeDir
	case meta.IsSymlink:
		return typeSymlink
	default:
		return typeRegular
	}
}

// syntheticShortName produces a short, valid ustar name for the x-header
// record of an extended entry; the real path lives in the pax "path"
// attribute, so this name is never interpreted by a standards-compliant
// extractor.
func syntheticShortName(relPath string) string {
	base := path.Base(relPath)
	if base == "" || base == "." || base == "/" {
		base = "pax-entry"
	}
	if len(base) > longPathThreshold-1 {
		base = base[:longPathThreshold-1]
	}
	return base
}

func truncateName(relPath string) string {
	if len(relPath) >= longPathThreshold {
		return relPath[:longPathThreshold-1]
	}
	return relPath
}

// buildUstarHeader fills one 512-byte ustar record per POSIX.1-2001 §10.1.1
// and computes its checksum.
func buildUstarHeader(name string, size uint64, typeFlag byte, linkName string, meta FileMeta) [blockSize]byte {
	var h [blockSize]byte

	copy(h[0:100], name)
	writeOctalField(h[100:108], uint64(meta.Mode&0o7777))
	writeOctalField(h[108:116], uint64(meta.UID))
	writeOctalField(h[116:124], uint64(meta.GID))
	writeOctalField(h[124:136], size)
	writeOctalField(h[136:148], uint64(meta.ModTime.Unix()))
	for i := 148; i < 156; i++ {
		h[i] = ' ' // checksum field, filled with spaces for the initial sum
	}
	h[156] = typeFlag
	copy(h[157:257], linkName)
	copy(h[257:263], "ustar\x00")
	copy(h[263:265], "00")
	copy(h[265:297], meta.Uname)
	copy(h[297:329], meta.Gname)

	sum := 0
	for _, b := range h {
		sum += int(b)
	}
	writeChecksumField(h[148:156], sum)

	return h
}

// writeOctalField writes v as zero-padded octal filling field[:len-1],
// NUL-terminated, per the numeric field convention of POSIX.1 tar headers.
func writeOctalField(field []byte, v uint64) {
	s := strconv.FormatUint(v, 8)
	width := len(field) - 1
	if len(s) > width {
		s = s[len(s)-width:] // truncate on overflow rather than corrupt adjacent fields
	}
	for i := range field {
		field[i] = '0'
	}
	copy(field[width-len(s):width], s)
	field[width] = 0
}

// writeChecksumField writes the 6-digit octal checksum followed by a NUL
// and a space, per §4.2.
func writeChecksumField(field []byte, sum int) {
	s := strconv.FormatInt(int64(sum), 8)
	for len(s) < 6 {
		s = "0" + s
	}
	copy(field[0:6], s)
	field[6] = 0
	field[7] = ' '
}
