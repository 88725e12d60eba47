package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"invoicexl/internal/logger"
)

// RetryConfig bounds the calls RetryingService makes for one document.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 are treated as 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout applies to each attempt separately. Zero means no per-attempt limit.
	Timeout time.Duration
}

// RetryError is returned when a document could not be read. Attempts is the
// number of calls made; Err is the last failure.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("ocr: gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// AttemptsOf returns the number of calls recorded in err, or 0.
func AttemptsOf(err error) int {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// RetryingService retries transient failures of another OCRService with
// exponential backoff. Permanent failures return after the first call.
type RetryingService struct {
	next OCRService
	cfg  RetryConfig
	log  zerolog.Logger
}

// NewRetryingService wraps next with the retry policy in cfg.
func NewRetryingService(next OCRService, cfg RetryConfig) *RetryingService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &RetryingService{
		next: next,
		cfg:  cfg,
		log:  logger.WithComponent("ocr-retry"),
	}
}

// ProcessDocument extracts text, retrying transient failures.
func (r *RetryingService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, r, data, mimeType)
}

// ProcessDocumentWithMetadata extracts text with metadata, retrying transient failures.
// On success OCRResult.Attempts holds the number of calls made.
func (r *RetryingService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "RetryProcessDocument"

	content, err := readDocument(op, data)
	if err != nil {
		return nil, &RetryError{Attempts: 0, Err: err}
	}

	attempts := 0
	var result *OCRResult
	operation := func() error {
		attempts++
		callCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}

		res, err := r.next.ProcessDocumentWithMetadata(callCtx, bytes.NewReader(content), mimeType)
		if err == nil {
			result = res
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(WrapOCRError(op, ErrContextCanceled, ctx.Err().Error()))
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !IsTransient(err) {
			err = WrapOCRError(op, ErrTransient, fmt.Sprintf("attempt timed out after %s", r.cfg.Timeout))
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		r.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Transient OCR failure, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				err = WrapOCRError(op, ErrContextCanceled, err.Error())
			}
		}
		return nil, &RetryError{Attempts: attempts, Err: err}
	}

	result.Attempts = attempts
	return result, nil
}
