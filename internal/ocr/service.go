// Package ocr turns invoice images and PDFs into raw text.
//
// Providers:
//   - GoogleVisionOCRService: Cloud Vision document text detection. Images go
//     through BatchAnnotateImages, PDFs through BatchAnnotateFiles.
//   - DocumentAIOCRService: a Document AI OCR processor.
//   - AzureOCRService: Azure Computer Vision printed-text OCR for images, with an
//     optional contrast/sharpen pass before upload.
//   - PDFTextService: reads the embedded text layer of digital PDFs locally.
//
// Required Environment Variables (Google providers):
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Cloud Vision API Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Maximum pages: 5 pages for synchronous PDF processing
//
// Failures are classified with the sentinels in errors.go. NewRetryingService
// retries the transient ones (ErrTransient, ErrQuotaExceeded) with bounded
// exponential backoff; everything else is permanent for the document.
package ocr

import (
	"context"
	"io"
	"time"
)

// Supported document MIME types.
const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// MaxFileSizeBytes is the maximum file size for synchronous processing (20MB)
const MaxFileSizeBytes = 20 * 1024 * 1024

// OCRService defines the interface for OCR text extraction services.
type OCRService interface {
	// ProcessDocument extracts text from a PDF or image.
	// Returns the concatenated text from all pages.
	ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error)

	// ProcessDocumentWithMetadata extracts text with additional metadata.
	ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error)
}

// OCRResult contains the results of OCR processing with metadata.
type OCRResult struct {
	// Text is the extracted text content from all pages, concatenated in reading order.
	Text string `json:"text"`

	// PageCount is the number of pages that were processed.
	PageCount int `json:"page_count"`

	// Confidence is the average confidence score across all detected text (0.0 to 1.0).
	// Zero when the provider does not report confidence.
	Confidence float32 `json:"confidence"`

	// ProcessedAt is the timestamp when the OCR processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// LanguageCodes contains the detected languages in the document.
	LanguageCodes []string `json:"language_codes,omitempty"`

	// ProcessingDuration is how long the OCR processing took.
	ProcessingDuration time.Duration `json:"processing_duration"`

	// Provider names the service that produced the text.
	Provider string `json:"provider"`

	// Attempts is the number of calls made, including retries.
	Attempts int `json:"attempts"`
}

// IsSupported reports whether mimeType is one of the document types the pipeline accepts.
func IsSupported(mimeType string) bool {
	switch mimeType {
	case MimePDF, MimePNG, MimeJPEG:
		return true
	}
	return false
}

// processText is the shared ProcessDocument implementation.
func processText(ctx context.Context, s OCRService, data io.Reader, mimeType string) (string, error) {
	result, err := s.ProcessDocumentWithMetadata(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// readDocument reads data and enforces the synchronous size limit.
func readDocument(op string, data io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(data, MaxFileSizeBytes+1))
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to read document data")
	}
	if len(b) > MaxFileSizeBytes {
		return nil, WrapOCRError(op, ErrFileTooLarge, "document larger than 20MB")
	}
	return b, nil
}

// checkPDFHeader rejects data that does not start like a PDF.
func checkPDFHeader(op string, b []byte) error {
	if len(b) < 4 || string(b[:4]) != "%PDF" {
		return WrapOCRError(op, ErrInvalidPDF, "missing PDF header")
	}
	return nil
}
