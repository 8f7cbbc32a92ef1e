package cr2

import (
	"bytes"
	"encoding/binary"
	"testing"

	jseg "github.com/garyhouston/jpegsegs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalHeader returns a little-endian CR2 header followed by an IFD0 with a
// single ImageWidth field.
func minimalHeader() []byte {
	b := make([]byte, 0, 64)
	b = append(b, 'I', 'I', 0x2A, 0x00)
	b = binary.LittleEndian.AppendUint32(b, HeaderSize)
	b = append(b, 'C', 'R', 2, 0)
	b = binary.LittleEndian.AppendUint32(b, 0x1234)

	// IFD0: one entry, ImageWidth SHORT 1 = 100, no next IFD.
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 0x0100)
	b = binary.LittleEndian.AppendUint16(b, 3)
	b = binary.LittleEndian.AppendUint32(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 100)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return b
}

func losslessBody(t *testing.T) []byte {
	t.Helper()

	sof := []byte{14, 0x0D, 0xC8, 0x06, 0x90, 2, 1, 0x11, 0, 2, 0x11, 0}
	sos := []byte{2, 1, 0x00, 2, 0x10, 1, 0, 0}
	var buf bytes.Buffer
	err := jseg.WriteSegments(&buf, []jseg.Segment{
		{Marker: jseg.DHT, Data: []byte{0x00, 0x01, 0x02}},
		{Marker: losslessFrame, Data: sof},
		{Marker: jseg.SOS, Data: sos},
	})
	require.NoError(t, err)
	buf.Write([]byte{0x12, 0x34, 0xFF, 0x00, 0x56, 0xFF, jseg.EOI})
	return buf.Bytes()
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	h, err := ParseHeader(minimalHeader())
	require.NoError(t, err)

	assert.Equal(t, binary.ByteOrder(binary.LittleEndian), h.ByteOrder)
	assert.Equal(t, uint32(HeaderSize), h.IFD0Offset)
	assert.Equal(t, uint32(0x1234), h.RawIFDOffset)
	assert.True(t, h.IsDefaultVersion())
	assert.Equal(t, 1, h.IFD0Fields)
	assert.Contains(t, h.String(), "II CR2 v2.0")
}

func TestParseHeader_Errors(t *testing.T) {
	t.Parallel()

	notCR2 := minimalHeader()
	notCR2[8], notCR2[9] = 'X', 'Y'

	notTIFF := minimalHeader()
	notTIFF[0], notTIFF[1] = 0x00, 0x00

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "too short", input: []byte("II*"), wantErr: ErrTooShort},
		{name: "not tiff", input: notTIFF, wantErr: ErrNotTIFF},
		{name: "not cr2", input: notCR2, wantErr: ErrNotCR2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseHeader(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseHeader_DamagedIFD(t *testing.T) {
	t.Parallel()

	// IFD0 claims far more entries than the buffer holds.
	b := minimalHeader()
	binary.LittleEndian.PutUint16(b[HeaderSize:HeaderSize+2], 0xFFFF)

	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, -1, h.IFD0Fields)
}

func TestInspectBody(t *testing.T) {
	t.Parallel()

	info, err := InspectBody(losslessBody(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"DHT", "SOF3", "SOS"}, info.Markers)
	require.NotNil(t, info.Frame)
	assert.Equal(t, uint8(14), info.Frame.Precision)
	assert.Equal(t, uint16(0x0DC8), info.Frame.Height)
	assert.Equal(t, uint16(0x0690), info.Frame.Width)
	assert.Equal(t, uint8(2), info.Frame.Components)
}

func TestInspectBody_Errors(t *testing.T) {
	t.Parallel()

	_, err := InspectBody([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)

	truncated := losslessBody(t)[:12]
	_, err = InspectBody(truncated)
	assert.Error(t, err)
}
