package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/javi11/cr2repair/internal/cr2"
	"github.com/javi11/cr2repair/internal/splice"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	inspectCmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Show where the image data starts and what the header contains",
		Long: `Inspect reports, for each file, the offset of the last image data marker,
whether the bytes before it form a CR2 header and whether the data after it
parses as a lossless JPEG stream. Use it to check a reference file before a
repair or to look at a repaired file afterwards.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInspect,
	}

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	out := cmd.OutOrStdout()

	var failed int
	for _, path := range args {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n\n", path, err)
			failed++
			continue
		}
		writeReport(out, filepath.Base(path), data)
	}

	if failed == len(args) {
		return fmt.Errorf("no file could be read")
	}
	return nil
}

func writeReport(out io.Writer, name string, data []byte) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "file\t%s\n", name)
	fmt.Fprintf(tw, "size\t%d\n", len(data))

	if h, err := cr2.ParseHeader(data); err != nil {
		fmt.Fprintf(tw, "header\tinvalid (%v)\n", err)
	} else {
		fmt.Fprintf(tw, "header\t%s\n", h)
		if !h.IsDefaultVersion() {
			fmt.Fprintf(tw, "\tunexpected CR2 version, expected 2.0\n")
		}
		if h.IFD0Fields >= 0 {
			fmt.Fprintf(tw, "ifd0 fields\t%d\n", h.IFD0Fields)
		}
	}

	pos, err := splice.FindBodyMarker(data)
	if err != nil {
		fmt.Fprintf(tw, "image data\tnot found\n\n")
		return
	}
	fmt.Fprintf(tw, "image data\toffset %d (0x%X), header length %d\n", pos, pos, pos)

	info, err := cr2.InspectBody(data[pos:])
	if err != nil {
		fmt.Fprintf(tw, "body\tinvalid (%v)\n\n", err)
		return
	}
	fmt.Fprintf(tw, "body markers\t%s\n", strings.Join(info.Markers, " "))
	if f := info.Frame; f != nil {
		fmt.Fprintf(tw, "frame\t%dx%d, %d components, %d bit\n", f.Width, f.Height, f.Components, f.Precision)
	}
	fmt.Fprintln(tw)
}
