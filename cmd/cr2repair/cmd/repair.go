package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javi11/cr2repair/internal/batch"
	"github.com/javi11/cr2repair/internal/config"
	"github.com/javi11/cr2repair/internal/pathutil"
	"github.com/javi11/cr2repair/internal/preview"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	referencePath string
	inputDir      string
)

func init() {
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair every corrupted file of a folder",
		Long: `Repair restores every file named <name>.<ext>.<suffix> found in the input
folder by splicing the header of the reference file in front of its image data.
Repaired files keep <name>.<ext> and are written to the output folder, which
defaults to "Repaired" inside the input folder.`,
		Example: `  cr2repair repair --reference good.CR2 --input ./encrypted
  cr2repair repair -r good.CR2 -i ./encrypted --decode --image-format jpeg --max-dimension 2048`,
		Args: cobra.NoArgs,
		RunE: runRepair,
	}

	flags := repairCmd.Flags()
	flags.StringVarP(&referencePath, "reference", "r", "", "known-good CR2 file from the same camera")
	flags.StringVarP(&inputDir, "input", "i", "", "folder holding the corrupted files")
	flags.StringP("output", "o", "Repaired", "output folder, relative to the input folder unless absolute")
	flags.String("ext", "CR2", "raw file extension to look for")
	flags.Bool("sort", false, "process files in name order")
	flags.Bool("verify", true, "check that every repaired body parses as lossless JPEG")
	flags.Bool("strict", false, "exit non-zero when any file fails")

	flags.Bool("decode", false, "also decode every repaired file into an image")
	flags.String("image-dir", "Decoded", "image folder, relative to the input folder unless absolute")
	flags.String("image-format", config.ImageFormatPNG, "image format (png, jpeg, tiff, pdf)")
	flags.Int("quality", 90, "JPEG quality")
	flags.Int("max-dimension", 0, "downscale images so the longest side fits, 0 keeps full size")
	flags.String("decoder-command", "dcraw", "external raw decoder")
	flags.StringSlice("decoder-args", []string{"-c", "-w", "-T", preview.InputPlaceholder}, "decoder arguments, {input} is replaced by the raw file path")
	flags.Int("decoder-timeout", 120, "seconds allowed per decoder run")

	_ = repairCmd.MarkFlagRequired("reference")
	_ = repairCmd.MarkFlagRequired("input")

	mustBind("repair.output_dir", flags.Lookup("output"))
	mustBind("repair.extension", flags.Lookup("ext"))
	mustBind("repair.sort", flags.Lookup("sort"))
	mustBind("repair.verify_body", flags.Lookup("verify"))
	mustBind("repair.strict", flags.Lookup("strict"))
	mustBind("decode.enabled", flags.Lookup("decode"))
	mustBind("decode.image_dir", flags.Lookup("image-dir"))
	mustBind("decode.format", flags.Lookup("image-format"))
	mustBind("decode.quality", flags.Lookup("quality"))
	mustBind("decode.max_dimension", flags.Lookup("max-dimension"))
	mustBind("decode.command", flags.Lookup("decoder-command"))
	mustBind("decode.args", flags.Lookup("decoder-args"))
	mustBind("decode.timeout_seconds", flags.Lookup("decoder-timeout"))

	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, _ []string) error {
	cfg := configManager.GetConfig()

	req, err := buildRequest(cfg, referencePath, inputDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	w := batch.Start(ctx, batch.NewRunner(afero.NewOsFs(), logger), req, 16)
	for e := range w.Events() {
		logEvent(ctx, logger, e)
	}

	summary, err := w.Wait()
	return finishRepair(cmd.OutOrStdout(), summary, err, cfg.Repair.Strict)
}

// finishRepair prints whatever the batch got through, including a batch that
// was interrupted, and turns the outcome into the command error.
func finishRepair(out io.Writer, summary batch.Summary, err error, strict bool) error {
	if summary.Total > 0 || err == nil {
		printSummary(out, summary)
	}
	if err != nil {
		return err
	}

	if strict && (len(summary.Failed) > 0 || len(summary.DecodeFailed) > 0) {
		return fmt.Errorf("%d files failed to repair and %d failed to decode", len(summary.Failed), len(summary.DecodeFailed))
	}
	return nil
}

func buildRequest(cfg *config.Config, reference, input string) (batch.Request, error) {
	req := batch.Request{
		ReferencePath: reference,
		InputDir:      input,
		OutputDir:     pathutil.ResolveDir(input, cfg.Repair.OutputDir, "Repaired"),
		Extension:     cfg.Repair.Extension,
		Sort:          cfg.Repair.Sort,
		VerifyBody:    cfg.GetVerifyBody(),
	}

	if !cfg.GetDecodeEnabled() {
		return req, nil
	}

	enc, err := preview.NewEncoder(cfg.Decode.Format, cfg.Decode.Quality)
	if err != nil {
		return req, err
	}

	req.Decode = &batch.DecodeOptions{
		ImageDir:     pathutil.ResolveDir(input, cfg.Decode.ImageDir, "Decoded"),
		Decoder:      preview.NewCommandDecoder(cfg.Decode.Command, cfg.Decode.Args, time.Duration(cfg.Decode.TimeoutSeconds)*time.Second),
		Encoder:      enc,
		MaxDimension: cfg.Decode.MaxDimension,
	}
	return req, nil
}

func logEvent(ctx context.Context, logger *slog.Logger, e batch.Event) {
	attrs := []any{"event", string(e.Kind), "percent", e.Percent}
	if e.File != "" {
		attrs = append(attrs, "file", e.File)
	}
	if e.Output != "" {
		attrs = append(attrs, "output", e.Output)
	}

	switch e.Kind {
	case batch.EventFailed:
		logger.ErrorContext(ctx, e.Message, append(attrs, "error", e.Err)...)
	case batch.EventDecodeFailed:
		logger.WarnContext(ctx, e.Message, append(attrs, "error", e.Err)...)
	case batch.EventDone:
		if e.Err != nil {
			logger.WarnContext(ctx, e.Message, append(attrs, "error", e.Err)...)
			return
		}
		logger.InfoContext(ctx, e.Message, attrs...)
	default:
		logger.InfoContext(ctx, e.Message, attrs...)
	}

	if e.Warning != "" {
		logger.WarnContext(ctx, e.Warning, attrs...)
	}
}

func printSummary(out io.Writer, s batch.Summary) {
	fmt.Fprintln(out, s.String())
	for _, f := range s.Failed {
		fmt.Fprintf(out, "  failed: %s: %v\n", f.File, f.Err)
	}
	for _, f := range s.DecodeFailed {
		fmt.Fprintf(out, "  not decoded: %s: %v\n", f.File, f.Err)
	}
}
