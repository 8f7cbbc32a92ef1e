// Package splice rebuilds CR2 files whose metadata header was overwritten.
//
// A CR2 file is split at the last occurrence of the body marker: everything
// before it is the header (camera and session metadata), everything from it to
// the end of the file is the lossless JPEG scan data. A header taken from a
// known-good reference file is spliced in front of the untouched body of each
// damaged file.
package splice

import (
	"bytes"
	"errors"
	"fmt"

	jseg "github.com/garyhouston/jpegsegs"
)

// BodyMarker is SOI immediately followed by a DHT marker, which opens the raw
// lossless JPEG stream of a CR2 file.
var BodyMarker = []byte{0xFF, jseg.SOI, 0xFF, jseg.DHT}

const (
	// PatchOffset is the start of the header field that must not be copied
	// verbatim between files.
	PatchOffset = 0x62
	// PatchWidth is the number of bytes zeroed at PatchOffset.
	PatchWidth = 3
)

// ErrMarkerNotFound is matched by every MarkerNotFoundError.
var ErrMarkerNotFound = errors.New("body marker not found")

// MarkerNotFoundError reports a byte sequence that contains no body marker.
type MarkerNotFoundError struct {
	Source string
	Size   int
}

func (e *MarkerNotFoundError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("body marker % X not found in %d bytes", BodyMarker, e.Size)
	}
	return fmt.Sprintf("body marker % X not found in %s (%d bytes)", BodyMarker, e.Source, e.Size)
}

func (e *MarkerNotFoundError) Is(target error) bool {
	return target == ErrMarkerNotFound
}

// FindBodyMarker returns the offset of the last body marker in b.
func FindBodyMarker(b []byte) (int, error) {
	pos := bytes.LastIndex(b, BodyMarker)
	if pos < 0 {
		return -1, &MarkerNotFoundError{Size: len(b)}
	}
	return pos, nil
}

// ExtractReferenceHeader returns a copy of every byte preceding the last body
// marker of reference, with the field at PatchOffset zeroed. The input is not
// modified.
func ExtractReferenceHeader(reference []byte) ([]byte, error) {
	pos, err := FindBodyMarker(reference)
	if err != nil {
		return nil, err
	}

	header := make([]byte, pos)
	copy(header, reference[:pos])

	// Short headers only get the part of the field they actually contain.
	end := min(PatchOffset+PatchWidth, len(header))
	for i := PatchOffset; i < end; i++ {
		header[i] = 0
	}

	return header, nil
}

// RepairFile returns header followed by the body of corrupted, starting at its
// last body marker. The result is a new slice; neither input is modified.
func RepairFile(corrupted, header []byte) ([]byte, error) {
	pos, err := FindBodyMarker(corrupted)
	if err != nil {
		return nil, err
	}

	body := corrupted[pos:]
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

// WithSource attaches a file name to a MarkerNotFoundError so log lines can
// name the offending file. Other errors are returned unchanged.
func WithSource(err error, source string) error {
	var mnf *MarkerNotFoundError
	if errors.As(err, &mnf) {
		return &MarkerNotFoundError{Source: source, Size: mnf.Size}
	}
	return err
}
