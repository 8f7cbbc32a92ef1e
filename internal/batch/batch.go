// Package batch repairs every corrupted file of a folder against one
// reference header and reports progress per file.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/javi11/cr2repair/internal/cr2"
	"github.com/javi11/cr2repair/internal/pathutil"
	"github.com/javi11/cr2repair/internal/preview"
	"github.com/javi11/cr2repair/internal/slogutil"
	"github.com/javi11/cr2repair/internal/splice"
	"github.com/spf13/afero"
)

// EventKind identifies a batch event.
type EventKind string

const (
	EventStart        EventKind = "start"
	EventProcessing   EventKind = "processing"
	EventRepaired     EventKind = "repaired"
	EventFailed       EventKind = "failed"
	EventDecoded      EventKind = "decoded"
	EventDecodeFailed EventKind = "decode_failed"
	EventDone         EventKind = "done"
)

// Event is a progress or log notification. Percent never decreases within a
// batch and is 100 on the last file.
type Event struct {
	Kind    EventKind
	Index   int // 0-based file index, -1 for batch-level events
	Total   int
	Percent int
	File    string
	Output  string
	Message string
	Warning string
	Err     error
}

// Reporter receives batch events in order.
type Reporter interface {
	Report(ctx context.Context, e Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, e Event)

func (f ReporterFunc) Report(ctx context.Context, e Event) { f(ctx, e) }

// DecodeOptions enables the raw-to-image step.
type DecodeOptions struct {
	ImageDir     string
	Decoder      preview.Decoder
	Encoder      preview.Encoder
	MaxDimension int
}

// Request describes one batch run. Output folders must already be resolved.
type Request struct {
	ReferencePath string
	InputDir      string
	OutputDir     string
	Extension     string
	Sort          bool
	VerifyBody    bool
	Decode        *DecodeOptions
}

// Failure pairs a file name with the error that stopped it.
type Failure struct {
	File string
	Err  error
}

// Summary is the outcome of a batch run.
type Summary struct {
	Total        int
	Repaired     []string
	Failed       []Failure
	Decoded      int
	DecodeFailed []Failure
	OutputDir    string
	ImageDir     string
}

// String is the final human readable summary line.
func (s Summary) String() string {
	if s.Total == 0 {
		return "No matching files found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repaired %d of %d files into %s", len(s.Repaired), s.Total, s.OutputDir)
	if len(s.Failed) > 0 {
		fmt.Fprintf(&b, " (%d failed)", len(s.Failed))
	}
	if s.ImageDir != "" {
		fmt.Fprintf(&b, "; decoded %d images into %s", s.Decoded, s.ImageDir)
		if len(s.DecodeFailed) > 0 {
			fmt.Fprintf(&b, " (%d failed)", len(s.DecodeFailed))
		}
	}
	b.WriteString(".")
	return b.String()
}

// Progress returns floor((index+1)*100/total). An empty batch is complete.
func Progress(index, total int) int {
	if total <= 0 {
		return 100
	}
	return (index + 1) * 100 / total
}

// Runner executes batches on a filesystem.
type Runner struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewRunner creates a runner. A nil logger uses slog.Default().
func NewRunner(fs afero.Fs, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{fs: fs, logger: logger}
}

// Run repairs every corrupted file of req.InputDir, strictly one after the
// other. Per-file failures are reported and collected in the summary; only
// missing inputs, an unusable reference or unusable output folders return an
// error. Cancellation is honoured between files.
func (r *Runner) Run(ctx context.Context, req Request, reporter Reporter) (Summary, error) {
	if reporter == nil {
		reporter = ReporterFunc(func(context.Context, Event) {})
	}
	if req.Extension == "" {
		req.Extension = "CR2"
	}

	summary := Summary{OutputDir: req.OutputDir}

	if ok, _ := afero.Exists(r.fs, req.ReferencePath); !ok {
		return summary, &MissingPathError{Kind: "reference file", Path: req.ReferencePath}
	}
	if ok, _ := afero.DirExists(r.fs, req.InputDir); !ok {
		return summary, &MissingPathError{Kind: "input folder", Path: req.InputDir}
	}

	header, err := r.loadReference(ctx, req.ReferencePath)
	if err != nil {
		return summary, err
	}

	if err := pathutil.CheckDirectoryWritable(r.fs, req.OutputDir); err != nil {
		return summary, &OutputDirError{Path: req.OutputDir, Err: err}
	}
	if req.Decode != nil {
		if err := pathutil.CheckDirectoryWritable(r.fs, req.Decode.ImageDir); err != nil {
			return summary, &OutputDirError{Path: req.Decode.ImageDir, Err: err}
		}
		summary.ImageDir = req.Decode.ImageDir
	}

	files, err := ListCorrupted(r.fs, req.InputDir, req.Extension, req.Sort)
	if err != nil {
		return summary, fmt.Errorf("failed to list %s: %w", req.InputDir, err)
	}

	total := len(files)
	summary.Total = total
	reporter.Report(ctx, Event{Kind: EventStart, Index: -1, Total: total, Message: fmt.Sprintf("Found %d files to repair in %s", total, req.InputDir)})

	if total == 0 {
		reporter.Report(ctx, Event{Kind: EventDone, Index: -1, Percent: 100, Message: fmt.Sprintf("No matching files found in %s", req.InputDir)})
		return summary, nil
	}

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			reporter.Report(ctx, Event{Kind: EventDone, Index: -1, Total: total, Percent: Progress(i-1, total), Message: "Batch cancelled. " + summary.String(), Err: err})
			return summary, err
		}

		// A started file always completes, including its decode step.
		fileCtx := slogutil.With(context.WithoutCancel(ctx), "file", name, "index", i)
		r.processFile(fileCtx, req, header, name, i, total, &summary, reporter)
	}

	reporter.Report(ctx, Event{Kind: EventDone, Index: -1, Total: total, Percent: 100, Message: summary.String()})
	return summary, nil
}

func (r *Runner) loadReference(ctx context.Context, path string) ([]byte, error) {
	ref, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, &ReferenceError{Path: path, Err: err}
	}

	if h, err := cr2.ParseHeader(ref); err != nil {
		r.logger.WarnContext(ctx, "Reference does not look like a CR2 file", "path", path, "error", err)
	} else {
		if !h.IsDefaultVersion() {
			r.logger.WarnContext(ctx, "Reference has an unusual CR2 version", "path", path, "major", h.MajorVersion, "minor", h.MinorVersion)
		}
		r.logger.DebugContext(ctx, "Reference CR2 header", "path", path, "header", h.String())
	}

	header, err := splice.ExtractReferenceHeader(ref)
	if err != nil {
		return nil, &ReferenceError{Path: path, Err: splice.WithSource(err, filepath.Base(path))}
	}

	r.logger.InfoContext(ctx, "Reference header extracted", "path", path, "header_size", len(header), "file_size", len(ref))
	return header, nil
}

func (r *Runner) processFile(ctx context.Context, req Request, header []byte, name string, i, total int, summary *Summary, reporter Reporter) {
	percent := Progress(i, total)
	reporter.Report(ctx, Event{Kind: EventProcessing, Index: i, Total: total, Percent: percent, File: name, Message: fmt.Sprintf("Processing %s...", name)})

	fail := func(err error) {
		summary.Failed = append(summary.Failed, Failure{File: name, Err: err})
		reporter.Report(ctx, Event{Kind: EventFailed, Index: i, Total: total, Percent: percent, File: name, Message: fmt.Sprintf("%s failed: %v", name, err), Err: err})
	}

	outName, _ := pathutil.RepairedName(name, req.Extension)

	data, err := afero.ReadFile(r.fs, filepath.Join(req.InputDir, name))
	if err != nil {
		fail(fmt.Errorf("read: %w", err))
		return
	}

	repaired, err := splice.RepairFile(data, header)
	if err != nil {
		fail(splice.WithSource(err, name))
		return
	}

	outPath := filepath.Join(req.OutputDir, outName)
	if err := pathutil.WriteFileAtomic(r.fs, outPath, repaired, 0o644); err != nil {
		fail(err)
		return
	}

	r.logger.DebugContext(ctx, "File spliced", "output", outPath, "body_size", len(repaired)-len(header), "input_size", len(data))

	var warning string
	if req.VerifyBody {
		if _, err := cr2.InspectBody(repaired[len(header):]); err != nil {
			warning = fmt.Sprintf("body check failed: %v", err)
			r.logger.WarnContext(ctx, "Repaired body did not parse as lossless JPEG", "output", outPath, "error", err)
		}
	}

	summary.Repaired = append(summary.Repaired, outName)
	reporter.Report(ctx, Event{Kind: EventRepaired, Index: i, Total: total, Percent: percent, File: name, Output: outPath, Message: fmt.Sprintf("%s repaired.", name), Warning: warning})

	if req.Decode != nil {
		r.decodeFile(ctx, req.Decode, repaired, outName, name, i, total, percent, summary, reporter)
	}
}

// decodeFile never touches the repaired file; a decode failure is reported on
// its own.
func (r *Runner) decodeFile(ctx context.Context, opts *DecodeOptions, repaired []byte, outName, name string, i, total, percent int, summary *Summary, reporter Reporter) {
	imgPath := filepath.Join(opts.ImageDir, pathutil.ImageName(outName, opts.Encoder.Extension()))

	err := func() error {
		img, err := opts.Decoder.Decode(ctx, repaired)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}

		img = preview.Resize(img, opts.MaxDimension)

		var buf bytes.Buffer
		if err := opts.Encoder.Encode(&buf, img); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		return pathutil.WriteFileAtomic(r.fs, imgPath, buf.Bytes(), 0o644)
	}()

	if err != nil {
		summary.DecodeFailed = append(summary.DecodeFailed, Failure{File: outName, Err: err})
		reporter.Report(ctx, Event{Kind: EventDecodeFailed, Index: i, Total: total, Percent: percent, File: name, Message: fmt.Sprintf("%s could not be decoded: %v", outName, err), Err: err})
		return
	}

	summary.Decoded++
	reporter.Report(ctx, Event{Kind: EventDecoded, Index: i, Total: total, Percent: percent, File: name, Output: imgPath, Message: fmt.Sprintf("%s decoded to %s.", outName, filepath.Base(imgPath))})
}

// ListCorrupted returns the names of regular files in dir that look like
// <base>.<ext>.<suffix>. Without sorted the directory listing order is kept.
func ListCorrupted(fs afero.Fs, dir, ext string, sorted bool) ([]string, error) {
	f, err := fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() || !pathutil.IsCorruptedName(info.Name(), ext) {
			continue
		}
		names = append(names, info.Name())
	}

	if sorted {
		sort.Strings(names)
	}
	return names, nil
}
