package media

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Kind is the closed set of failure categories the pipeline reports.
type Kind string

const (
	KindMalformedInput      Kind = "malformed_input"
	KindInvalidRequest      Kind = "invalid_request"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindCorruptImage        Kind = "corrupt_image"
	KindSizeExceeded        Kind = "size_exceeded"
	KindDimensionOutOfRange Kind = "dimension_out_of_range"
	KindProcessing          Kind = "processing_error"
	KindStorage             Kind = "storage_error"
	KindPersistence         Kind = "persistence_error"
	KindAuthorization       Kind = "authorization_error"
	KindNotFound            Kind = "not_found"
	KindCancelled           Kind = "cancelled"
)

// Reasons refine a Kind.
const (
	ReasonTooSmall = "too_small"
	ReasonTooLarge = "too_large"
	// ReasonTooManyPixels marks an image whose edges are in range but whose
	// area would not fit the decode budget.
	ReasonTooManyPixels = "too_many_pixels"

	ReasonUnsupportedOutput = "unsupported_format"
	ReasonBufferTooLarge    = "buffer_too_large"
	ReasonCorruptSource     = "corrupt_source"

	ReasonMisconfigured = "misconfigured"
	ReasonTransient     = "transient"

	ReasonBlobDelete = "blob_delete"
)

// Error is a pipeline failure with the structured values a presentation layer
// needs to build its own message.
type Error struct {
	Kind   Kind
	Reason string
	Class  Class
	Limit  int64
	Actual int64
	// Detail is a short machine-facing note, e.g. the sniffed content type.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindMalformedInput:
		msg = fmt.Sprintf("upload is %d bytes, too small to be an image", e.Actual)
	case KindSizeExceeded:
		msg = fmt.Sprintf("file size %s exceeds the %s limit for %s images", FormatMB(e.Actual), FormatMB(e.Limit), e.Class)
	case KindUnsupportedFormat:
		msg = "unsupported image format"
		if e.Detail != "" {
			msg += " (" + e.Detail + ")"
		}
	case KindCorruptImage:
		msg = "image data is corrupt or incomplete"
	case KindDimensionOutOfRange:
		switch e.Reason {
		case ReasonTooSmall:
			msg = fmt.Sprintf("image edge of %dpx is below the %dpx minimum", e.Actual, e.Limit)
		case ReasonTooManyPixels:
			msg = fmt.Sprintf("image of %d pixels exceeds the %d pixel maximum", e.Actual, e.Limit)
		default:
			msg = fmt.Sprintf("image edge of %dpx exceeds the %dpx maximum", e.Actual, e.Limit)
		}
	case KindProcessing:
		msg = "image processing failed: " + e.Reason
	case KindStorage:
		msg = "blob storage failed: " + e.Reason
	default:
		msg = string(e.Kind)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if sent again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStorage:
		return e.Reason != ReasonMisconfigured
	case KindPersistence, KindCancelled:
		return true
	}
	return false
}

func NewError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for _, e := range Errors(err) {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Errors flattens err into the pipeline errors it carries. A multi-error from
// validation yields every problem it holds.
func Errors(err error) []*Error {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]*Error, 0, len(merr.Errors))
		for _, inner := range merr.Errors {
			out = append(out, Errors(inner)...)
		}
		return out
	}
	var e *Error
	if errors.As(err, &e) {
		return []*Error{e}
	}
	return nil
}

// FormatMB renders a byte count in whole megabytes when exact, one decimal otherwise.
func FormatMB(n int64) string {
	if n%MiB == 0 {
		return fmt.Sprintf("%dMB", n/MiB)
	}
	return fmt.Sprintf("%.1fMB", float64(n)/float64(MiB))
}
