package preview

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xFF})
		}
	}
	return img
}

func TestExpandArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-c", "-w", "-T", "/tmp/a.CR2"},
		ExpandArgs([]string{"-c", "-w", "-T", "{input}"}, "/tmp/a.CR2"))

	assert.Equal(t,
		[]string{"-i", "file=/tmp/a.CR2"},
		ExpandArgs([]string{"-i", "file={input}"}, "/tmp/a.CR2"))

	assert.Equal(t,
		[]string{"-c", "/tmp/a.CR2"},
		ExpandArgs([]string{"-c"}, "/tmp/a.CR2"))
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{format: "png", ext: "png"},
		{format: "JPEG", ext: "jpg"},
		{format: "jpg", ext: "jpg"},
		{format: "tiff", ext: "tiff"},
		{format: "tif", ext: "tiff"},
		{format: "pdf", ext: "pdf"},
		{format: "webp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := NewEncoder(tt.format, 85)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ext, enc.Extension())
		})
	}
}

func TestEncoders_ProduceDecodableOutput(t *testing.T) {
	img := testImage(32, 16)

	for _, format := range []string{"png", "jpeg", "tiff"} {
		t.Run(format, func(t *testing.T) {
			enc, err := NewEncoder(format, 90)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, enc.Encode(&buf, img))

			decoded, err := DecodeImage(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, img.Bounds(), decoded.Bounds())
		})
	}
}

func TestPDFEncoder(t *testing.T) {
	enc, err := NewEncoder("pdf", 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, testImage(40, 20)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))

	err = enc.Encode(&bytes.Buffer{}, image.NewRGBA(image.Rectangle{}))
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	img := testImage(200, 100)

	assert.Same(t, img, Resize(img, 0))
	assert.Same(t, img, Resize(img, 200))

	small := Resize(img, 50)
	assert.Equal(t, 50, small.Bounds().Dx())
	assert.Equal(t, 25, small.Bounds().Dy())

	tall := Resize(testImage(10, 400), 100)
	assert.Equal(t, 2, tall.Bounds().Dx())
	assert.Equal(t, 100, tall.Bounds().Dy())
}

func TestDecodeImage_TIFF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, testImage(8, 8), nil))

	img, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = DecodeImage([]byte("II*\x00garbage"))
	assert.Error(t, err)

	_, err = DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

// The decoder command here is cat, which echoes the "raw" file back; feeding
// it a PNG exercises the whole temp file, exec and decode path.
func TestCommandDecoder_Decode(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	var raw bytes.Buffer
	require.NoError(t, png.Encode(&raw, testImage(12, 6)))

	d := NewCommandDecoder("cat", []string{InputPlaceholder}, 10*time.Second)
	d.TempDir = t.TempDir()

	img, err := d.Decode(context.Background(), raw.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 6), img.Bounds())
}

func TestCommandDecoder_Errors(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	d := NewCommandDecoder("cat", nil, time.Second)
	d.TempDir = t.TempDir()

	_, err := d.Decode(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyOutput)

	missing := NewCommandDecoder("cr2repair-no-such-decoder", nil, time.Second)
	missing.TempDir = t.TempDir()
	_, err = missing.Decode(context.Background(), []byte{0x01})
	assert.Error(t, err)
}
