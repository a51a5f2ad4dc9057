// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrClientNotFound   = errors.New("client not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")

	// Document lifecycle
	ErrDocumentBusy         = errors.New("document is already being processed")
	ErrDocumentNotReady     = errors.New("document is not in a reprocessable state")
	ErrDocumentNotExtracted = errors.New("document has no extracted data")
	ErrUnsupportedCategory  = errors.New("unsupported document category")
	ErrNameConflict         = errors.New("extracted name conflicts with client record")
	ErrVersionConflict      = errors.New("record was modified concurrently")
	ErrPersonNotFound       = errors.New("assigned person not found")

	// File storage
	ErrBlobNotFound       = errors.New("stored file not found")
	ErrFileStorageFailed  = errors.New("file storage failed")
	ErrFileTooLarge       = errors.New("file too large")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")

	// Extraction collaborators
	ErrTextExtraction = errors.New("pdf text extraction failed")
	ErrRasterization  = errors.New("pdf rasterization failed")
	ErrOracle         = errors.New("structured extraction failed")
	ErrOracleSchema   = errors.New("structured extraction response does not match schema")

	// HTTP
	ErrDuplicateRequest = errors.New("duplicate request in progress")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// New is errors.New re-exported so callers need a single import.
func New(message string) error {
	return errors.New(message)
}

// Is and As re-export the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ExtractionError carries the document context of a fatal pipeline failure.
type ExtractionError struct {
	Stage    string
	Category string
	FileKey  string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s failed (category=%s, file=%s): %v", e.Stage, e.Category, e.FileKey, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewExtractionError returns nil when err is nil.
func NewExtractionError(stage, category, fileKey string, err error) error {
	if err == nil {
		return nil
	}
	return &ExtractionError{Stage: stage, Category: category, FileKey: fileKey, Err: err}
}
