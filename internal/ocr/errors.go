package ocr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/go-autorest/autorest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common OCR processing errors
var (
	// ErrFileTooLarge is returned when the document exceeds the provider's size limit.
	ErrFileTooLarge = errors.New("document exceeds the maximum size for synchronous OCR (20MB)")

	// ErrInvalidPDF is returned when the provided data is not a valid PDF document.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrUnsupportedFormat is returned when a provider cannot read the document's MIME type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrOCRFailed is returned when the OCR service fails permanently for a document.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrTransient is returned for failures worth retrying: network errors,
	// unavailable backends and per-attempt timeouts.
	ErrTransient = errors.New("transient OCR failure")

	// ErrQuotaExceeded is returned when the provider rate-limits or rejects a call for quota.
	ErrQuotaExceeded = errors.New("OCR quota exceeded or rate limited")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrTooManyPages is returned when the PDF has too many pages for synchronous processing.
	// Google Cloud Vision API supports up to 5 pages for synchronous processing.
	ErrTooManyPages = errors.New("PDF has too many pages (maximum 5 pages for synchronous processing)")

	// ErrEmptyDocument is returned when the document contains no readable text.
	ErrEmptyDocument = errors.New("document contains no readable text")

	// ErrContextCanceled is returned when the context is canceled during processing.
	ErrContextCanceled = errors.New("OCR processing was canceled")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "ProcessDocument", "LoadCredentials").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err // Already wrapped
	}

	return NewOCRError(op, err, details)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrQuotaExceeded)
}

// classifyAPIError maps a provider call failure to one of the package sentinels
// so that callers can decide on retries with errors.Is.
func classifyAPIError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrContextCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTransient
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return ErrQuotaExceeded
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return ErrTransient
		case codes.Canceled:
			return ErrContextCanceled
		case codes.InvalidArgument:
			return ErrUnsupportedFormat
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrMissingCredentials
		}
		return ErrOCRFailed
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransient
	}

	var detailed autorest.DetailedError
	if errors.As(err, &detailed) {
		code, _ := detailed.StatusCode.(int)
		switch {
		case code == http.StatusTooManyRequests:
			return ErrQuotaExceeded
		case code >= http.StatusInternalServerError, code == http.StatusRequestTimeout:
			return ErrTransient
		case code == http.StatusUnsupportedMediaType, code == http.StatusBadRequest:
			return ErrUnsupportedFormat
		case code == 0:
			// No response at all: the request never reached the service.
			return ErrTransient
		}
	}
	return ErrOCRFailed
}
