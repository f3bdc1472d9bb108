package archive

import "golang.org/x/xerrors"

// Sentinel errors for the kinds described in the design's error handling
// policy. Callers map these to syscall errnos at the SnapshotFS boundary;
// errors.Is works against these across any xerrors.Errorf wrapping.
var (
	// ErrTransientShortRead is returned by Read when a File-backed block
	// yields fewer bytes than the index promised, i.e. the source file
	// shrank concurrently with the read.
	ErrTransientShortRead = xerrors.New("archive: source file changed size during read")

	// ErrMalformedPath is returned when a path cannot be represented in a
	// pax record: LoadBlocks returns it for an entry path that is not valid
	// UTF-8 (or that contains U+FFFD).
	ErrMalformedPath = xerrors.New("archive: path is not representable in a pax record")
)
