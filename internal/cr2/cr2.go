// Package cr2 reads the structural parts of a Canon CR2 file that the repair
// relies on: the TIFF/CR2 file header and the lossless JPEG frame at the start
// of the raw body.
package cr2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	jseg "github.com/garyhouston/jpegsegs"
	tiff "github.com/garyhouston/tiff66"
)

// HeaderSize covers the TIFF header plus the CR2 extension
// (magic, version and RAW IFD offset).
const HeaderSize = 16

var (
	ErrTooShort    = errors.New("cr2: data too short")
	ErrNotTIFF     = errors.New("cr2: not a TIFF file")
	ErrNotCR2      = errors.New("cr2: missing CR magic")
	ErrNoSOS       = errors.New("cr2: no start of scan in body")
	cr2Magic       = []byte("CR")
	losslessFrame  = jseg.Marker(jseg.SOF0 + 3)
	defaultVersion = [2]uint8{2, 0}
)

// Header is the fixed part of a CR2 file.
type Header struct {
	ByteOrder    binary.ByteOrder
	IFD0Offset   uint32
	MajorVersion uint8
	MinorVersion uint8
	RawIFDOffset uint32
	// IFD0Fields is the number of fields in IFD0, or -1 when the IFD tree
	// could not be decoded.
	IFD0Fields int
}

// IsDefaultVersion reports whether the header carries the version written by
// every CR2 camera to date (2.0).
func (h Header) IsDefaultVersion() bool {
	return h.MajorVersion == defaultVersion[0] && h.MinorVersion == defaultVersion[1]
}

func (h Header) String() string {
	order := "II"
	if h.ByteOrder == binary.BigEndian {
		order = "MM"
	}
	return fmt.Sprintf("%s CR2 v%d.%d ifd0=0x%X raw_ifd=0x%X", order, h.MajorVersion, h.MinorVersion, h.IFD0Offset, h.RawIFDOffset)
}

// ParseHeader validates the TIFF and CR2 headers at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}

	valid, order, ifdPos := tiff.GetHeader(b)
	if !valid {
		return Header{}, ErrNotTIFF
	}
	if !bytes.Equal(b[8:10], cr2Magic) {
		return Header{}, fmt.Errorf("%w: got % X", ErrNotCR2, b[8:10])
	}

	h := Header{
		ByteOrder:    order,
		IFD0Offset:   ifdPos,
		MajorVersion: b[10],
		MinorVersion: b[11],
		RawIFDOffset: order.Uint32(b[12:16]),
	}

	h.IFD0Fields = ifd0FieldCount(b, order, ifdPos)

	return h, nil
}

// ifd0FieldCount returns -1 for damaged IFD trees, including ones that make
// the TIFF decoder panic.
func ifd0FieldCount(b []byte, order binary.ByteOrder, ifdPos uint32) (n int) {
	if int(ifdPos) >= len(b) {
		return -1
	}
	defer func() {
		if recover() != nil {
			n = -1
		}
	}()

	root, err := tiff.GetIFDTree(b, order, ifdPos, tiff.TIFFSpace)
	if err != nil {
		return -1
	}
	return len(root.Fields)
}

// Frame is the SOF3 (lossless) frame header of the raw body.
type Frame struct {
	Precision  uint8
	Height     uint16
	Width      uint16
	Components uint8
}

// BodyInfo lists the JPEG markers found before the scan data.
type BodyInfo struct {
	Markers []string
	Frame   *Frame
}

// InspectBody reads the JPEG segments of body up to and including SOS.
func InspectBody(body []byte) (BodyInfo, error) {
	if len(body) < jseg.HeaderSize || !jseg.IsJPEGHeader(body) {
		return BodyInfo{}, fmt.Errorf("cr2: body does not start with SOI")
	}

	segments, err := jseg.ReadSegments(bytes.NewReader(body))
	info := BodyInfo{Markers: make([]string, 0, len(segments))}
	for _, s := range segments {
		info.Markers = append(info.Markers, s.Marker.Name())
		if s.Marker == losslessFrame && len(s.Data) >= 6 {
			info.Frame = &Frame{
				Precision:  s.Data[0],
				Height:     binary.BigEndian.Uint16(s.Data[1:3]),
				Width:      binary.BigEndian.Uint16(s.Data[3:5]),
				Components: s.Data[5],
			}
		}
	}
	if err != nil {
		return info, fmt.Errorf("cr2: read body segments: %w", err)
	}
	if len(segments) == 0 || segments[len(segments)-1].Marker != jseg.SOS {
		return info, ErrNoSOS
	}

	return info, nil
}
