package ocr

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Chain tries providers in order and returns the first result with text.
// A provider that fails or finds no text hands the document to the next one;
// when all fail, the last provider's error is returned.
type Chain struct {
	providers []OCRService
}

// NewChain creates a Chain over providers, tried in the given order.
func NewChain(providers ...OCRService) *Chain {
	return &Chain{providers: providers}
}

// ProcessDocument extracts text with the first provider that succeeds.
func (c *Chain) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, c, data, mimeType)
}

// ProcessDocumentWithMetadata extracts text with the first provider that succeeds.
func (c *Chain) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "ChainProcessDocument"

	if len(c.providers) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no OCR providers configured")
	}

	content, err := readDocument(op, data)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range c.providers {
		result, err := p.ProcessDocumentWithMetadata(ctx, bytes.NewReader(content), mimeType)
		if err == nil && result != nil && result.Text != "" {
			return result, nil
		}
		if err == nil {
			err = WrapOCRError(op, ErrEmptyDocument, "provider returned no text")
		}
		if errors.Is(err, ErrContextCanceled) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
