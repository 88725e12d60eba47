package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"invoicexl/internal/logger"
)

// ProviderPDFText is the Provider name reported by PDFTextService.
const ProviderPDFText = "pdftext"

// PDFTextService reads the embedded text layer of digitally generated PDFs.
// It makes no network calls. Scanned PDFs without a text layer yield ErrEmptyDocument,
// which lets a Chain fall through to a real OCR provider.
type PDFTextService struct {
	log zerolog.Logger
}

// NewPDFTextService creates a local PDF text reader.
func NewPDFTextService() *PDFTextService {
	return &PDFTextService{log: logger.WithComponent("ocr-pdftext")}
}

// ProcessDocument extracts the text layer of a PDF.
func (p *PDFTextService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, p, data, mimeType)
}

// ProcessDocumentWithMetadata extracts the text layer of a PDF with page metadata.
func (p *PDFTextService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "PDFTextProcessDocument"
	startTime := time.Now()

	if mimeType != MimePDF {
		return nil, WrapOCRError(op, ErrUnsupportedFormat, fmt.Sprintf("text layer extraction reads PDFs only, got %s", mimeType))
	}

	content, err := readDocument(op, data)
	if err != nil {
		return nil, err
	}
	if err := checkPDFHeader(op, content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapOCRError(op, ErrContextCanceled, err.Error())
	}

	text, pages, err := readPDFRows(content)
	if err != nil {
		return nil, WrapOCRError(op, ErrInvalidPDF, err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return nil, WrapOCRError(op, ErrEmptyDocument, "PDF has no text layer")
	}

	processedAt := time.Now()
	p.log.Debug().Int("pages", pages).Msg("PDF text layer read")

	return &OCRResult{
		Text:               text,
		PageCount:          pages,
		Confidence:         1,
		ProcessedAt:        processedAt,
		ProcessingDuration: processedAt.Sub(startTime),
		Provider:           ProviderPDFText,
	}, nil
}

// readPDFRows returns the page text row by row. The parser panics on some
// malformed files, so panics are turned into errors.
func readPDFRows(content []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	pages = reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		if i > 1 {
			fmt.Fprintf(&b, "\n\n--- Page %d ---\n\n", i)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
	}
	return b.String(), pages, nil
}
