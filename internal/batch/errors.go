package batch

import "fmt"

// MissingPathError is returned before any work starts when the reference
// file or the input folder does not exist.
type MissingPathError struct {
	Kind string // "reference file" or "input folder"
	Path string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.Path)
}

// ReferenceError means no header could be derived from the reference file.
// It aborts the whole batch.
type ReferenceError struct {
	Path string
	Err  error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference %s unusable: %v", e.Path, e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// OutputDirError means an output folder could not be created or written.
// It aborts the whole batch.
type OutputDirError struct {
	Path string
	Err  error
}

func (e *OutputDirError) Error() string {
	return fmt.Sprintf("output folder %s unusable: %v", e.Path, e.Err)
}

func (e *OutputDirError) Unwrap() error { return e.Err }
