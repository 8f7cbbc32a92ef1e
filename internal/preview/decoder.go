// Package preview turns repaired raw files into viewable images. Raw
// decoding is delegated to an external decoder; this package only moves bytes
// in and out of it and encodes the resulting raster.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/image/tiff"
)

// InputPlaceholder is replaced by the path of the raw file in decoder args.
const InputPlaceholder = "{input}"

var ErrEmptyOutput = errors.New("decoder produced no output")

// Decoder converts raw file bytes into an RGB raster.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) (image.Image, error)
}

// CommandDecoder runs an external raw decoder such as dcraw or LibRaw's
// dcraw_emu. The command must write a TIFF, PNG or JPEG image to stdout.
type CommandDecoder struct {
	Command string
	Args    []string
	Timeout time.Duration
	// TempDir holds the raw file handed to the command. Empty uses os.TempDir.
	TempDir string
}

// NewCommandDecoder creates a decoder running command with args.
func NewCommandDecoder(command string, args []string, timeout time.Duration) *CommandDecoder {
	return &CommandDecoder{
		Command: command,
		Args:    args,
		Timeout: timeout,
	}
}

// Decode writes raw to a temporary file, runs the decoder on it and decodes
// its standard output.
func (d *CommandDecoder) Decode(ctx context.Context, raw []byte) (image.Image, error) {
	tmp, err := os.CreateTemp(d.TempDir, "cr2repair-*.CR2")
	if err != nil {
		return nil, fmt.Errorf("create decoder input: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, writeErr := tmp.Write(raw)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return nil, fmt.Errorf("write decoder input: %w", err)
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Command, ExpandArgs(d.Args, tmp.Name())...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s: %w", d.Command, err)
		}
		return nil, fmt.Errorf("run %s: %w: %s", d.Command, err, msg)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", d.Command, ErrEmptyOutput)
	}

	return DecodeImage(stdout.Bytes())
}

// ExpandArgs substitutes InputPlaceholder with path. When no argument holds
// the placeholder, path is appended as the last argument.
func ExpandArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	found := false
	for _, a := range args {
		if strings.Contains(a, InputPlaceholder) {
			found = true
			a = strings.ReplaceAll(a, InputPlaceholder, path)
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, path)
	}
	return out
}

// DecodeImage decodes TIFF output from raw decoders, and any registered image
// format otherwise.
func DecodeImage(b []byte) (image.Image, error) {
	if isTIFF(b) {
		img, err := tiff.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("decode TIFF output: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode decoder output: %w", err)
	}
	return img, nil
}

func isTIFF(b []byte) bool {
	return len(b) >= 4 &&
		(bytes.Equal(b[:4], []byte("II*\x00")) || bytes.Equal(b[:4], []byte("MM\x00*")))
}
