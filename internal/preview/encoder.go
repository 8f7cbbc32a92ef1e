package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Encoder writes a raster in one image format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
	// Extension is the file extension, without dot, for the format.
	Extension() string
}

// NewEncoder returns the encoder for format. Quality only applies to JPEG.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch strings.ToLower(format) {
	case "png":
		return pngEncoder{}, nil
	case "jpeg", "jpg":
		return jpegEncoder{quality: quality}, nil
	case "tiff", "tif":
		return tiffEncoder{}, nil
	case "pdf":
		return pdfEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
}

type pngEncoder struct{}

func (pngEncoder) Encode(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

func (pngEncoder) Extension() string { return "png" }

type jpegEncoder struct {
	quality int
}

func (e jpegEncoder) Encode(w io.Writer, img image.Image) error {
	q := e.quality
	if q <= 0 || q > 100 {
		q = jpeg.DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

func (jpegEncoder) Extension() string { return "jpg" }

type tiffEncoder struct{}

func (tiffEncoder) Encode(w io.Writer, img image.Image) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

func (tiffEncoder) Extension() string { return "tiff" }

// pdfEncoder embeds the image as PNG on a single page sized to the image,
// one pixel per point.
type pdfEncoder struct{}

func (pdfEncoder) Encode(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("cannot write empty image to PDF")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode PDF page image: %w", err)
	}

	wd, ht := float64(b.Dx()), float64(b.Dy())

	// Portrait keeps Wd/Ht as given; landscape would swap them.
	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPageFormat("P", fpdf.SizeType{Wd: wd, Ht: ht})
	pdf.RegisterImageOptionsReader("raster", fpdf.ImageOptions{ImageType: "PNG"}, &buf)
	pdf.ImageOptions("raster", 0, 0, wd, ht, false, fpdf.ImageOptions{}, 0, "")

	return pdf.Output(w)
}

func (pdfEncoder) Extension() string { return "pdf" }

// Resize scales img down so that neither side exceeds maxDim, keeping the
// aspect ratio. Images already within bounds, or maxDim <= 0, are returned
// unchanged.
func Resize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	nw, nh := maxDim, maxDim
	if w >= h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
