// Package errs defines the error kinds shared by detection, parsing,
// enrichment and export.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the category of a conversion error.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindUnsupportedFormat      Kind = "unsupported_format"
	KindFormatMismatch         Kind = "format_mismatch"
	KindCorruptInput           Kind = "corrupt_input"
	KindAccessDenied           Kind = "access_denied"
	KindEmptyDocument          Kind = "empty_document"
	KindEnrichmentTimeout      Kind = "enrichment_timeout"
	KindEnrichmentBackendError Kind = "enrichment_backend_error"
	KindExportError            Kind = "export_error"
	KindCancelled              Kind = "cancelled"
	KindInvalidConfig          Kind = "invalid_config"
)

// Fatal reports whether errors of this kind end a conversion.
func (k Kind) Fatal() bool {
	switch k {
	case KindEmptyDocument, KindEnrichmentTimeout, KindEnrichmentBackendError:
		return false
	}
	return true
}

// Error is a classified error. Op names the operation that failed
// (e.g. "parse pdf", "ocr page 3").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind, so errors.Is(err, errs.AccessDenied)
// works against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	UnsupportedFormat      = &Error{Kind: KindUnsupportedFormat}
	FormatMismatch         = &Error{Kind: KindFormatMismatch}
	CorruptInput           = &Error{Kind: KindCorruptInput}
	AccessDenied           = &Error{Kind: KindAccessDenied}
	EmptyDocument          = &Error{Kind: KindEmptyDocument}
	EnrichmentTimeout      = &Error{Kind: KindEnrichmentTimeout}
	EnrichmentBackendError = &Error{Kind: KindEnrichmentBackendError}
	ExportError            = &Error{Kind: KindExportError}
	Cancelled              = &Error{Kind: KindCancelled}
	InvalidConfig          = &Error{Kind: KindInvalidConfig}
)

// New returns a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation maps to KindCancelled and deadline expiry to
// KindEnrichmentTimeout when no classified error is present.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindEnrichmentTimeout
	}
	return KindUnknown
}

// Enrichment classifies a failure from a model-backed call. Deadline expiry
// becomes EnrichmentTimeout, anything else EnrichmentBackendError.
func Enrichment(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindEnrichmentTimeout || e.Kind == KindEnrichmentBackendError) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindEnrichmentTimeout, op, err)
	}
	return New(KindEnrichmentBackendError, op, err)
}
