package rectify

import (
	"errors"
	"fmt"
)

// Sentinel errors for normalization outcomes.
var (
	// ErrSourceImageLoad is returned when the still image cannot be read or
	// decoded. It fails the whole request.
	ErrSourceImageLoad = errors.New("rectify: source image load failed")

	// ErrQuadrilateralRejected marks a batch entry whose quadrilateral is
	// geometrically invalid. The entry is skipped.
	ErrQuadrilateralRejected = errors.New("rectify: quadrilateral rejected")

	// ErrEncodeOrWrite marks a batch entry whose output could not be
	// encoded or written. The entry is skipped.
	ErrEncodeOrWrite = errors.New("rectify: encode or write failed")
)

// SourceError describes a failed source image load.
type SourceError struct {
	// Path is the resolved filesystem path.
	Path string

	// Err is the underlying read or decode error.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("rectify: load %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrSourceImageLoad and the underlying cause.
func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceImageLoad, e.Err}
}

// EntryError describes why one quadrilateral in a batch produced no output.
type EntryError struct {
	// Index is the entry's position in the request.
	Index int

	// Err wraps ErrQuadrilateralRejected or ErrEncodeOrWrite.
	Err error
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	return fmt.Sprintf("rectify: entry %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *EntryError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the entry failed geometric validation.
func (e *EntryError) Rejected() bool {
	return errors.Is(e.Err, ErrQuadrilateralRejected)
}

func rejected(index int, err error) *EntryError {
	return &EntryError{Index: index, Err: fmt.Errorf("%w: %w", ErrQuadrilateralRejected, err)}
}

func writeFailed(index int, err error) *EntryError {
	return &EntryError{Index: index, Err: fmt.Errorf("%w: %w", ErrEncodeOrWrite, err)}
}
