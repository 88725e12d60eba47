package ocr

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoicexl/internal/logger"
)

// ProviderDocumentAI is the Provider name reported by DocumentAIOCRService.
const ProviderDocumentAI = "documentai"

// DocumentAIConfig identifies the Document AI OCR processor to call.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// processorName returns the full resource name of the processor.
func (c DocumentAIConfig) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIOCRService implements OCRService with a Document AI OCR processor.
// Only the document text and page count are used; entity extraction happens downstream.
type DocumentAIOCRService struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIOCRService creates a processor client with credentials from environment.
// Locations other than "us" are served from their regional endpoint.
func NewDocumentAIOCRService(ctx context.Context, config DocumentAIConfig) (*DocumentAIOCRService, error) {
	const op = "NewDocumentAIOCRService"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrOCRFailed, "project and processor ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	credOptions := googleCredentialOptions()
	clientOptions = append(clientOptions, credOptions...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(credOptions) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return NewDocumentAIOCRServiceWithClient(config, client), nil
}

// NewDocumentAIOCRServiceWithClient creates the service with an explicit client (for testing).
func NewDocumentAIOCRServiceWithClient(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIOCRService {
	return &DocumentAIOCRService{
		client: client,
		config: config,
		log:    logger.WithComponent("ocr-documentai"),
	}
}

// ProcessDocument extracts text from a PDF or image.
func (d *DocumentAIOCRService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, d, data, mimeType)
}

// ProcessDocumentWithMetadata extracts text from a PDF or image with additional metadata.
func (d *DocumentAIOCRService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "DocumentAIProcessDocument"
	startTime := time.Now()

	if !IsSupported(mimeType) {
		return nil, WrapOCRError(op, ErrUnsupportedFormat, mimeType)
	}

	content, err := readDocument(op, data)
	if err != nil {
		return nil, err
	}
	if mimeType == MimePDF {
		if err := checkPDFHeader(op, content); err != nil {
			return nil, err
		}
	}

	req := &documentaipb.ProcessRequest{
		Name: d.config.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, WrapOCRError(op, classifyAPIError(err), fmt.Sprintf("Document AI call failed: %v", err))
	}
	if resp.Document == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}

	result := documentResult(resp.Document)
	if strings.TrimSpace(result.Text) == "" {
		return nil, WrapOCRError(op, ErrEmptyDocument, "processor returned no text")
	}

	result.Provider = ProviderDocumentAI
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	d.log.Debug().
		Str("processor", d.config.ProcessorID).
		Int("pages", result.PageCount).
		Dur("duration", result.ProcessingDuration).
		Msg("Document AI OCR completed")

	return result, nil
}

// documentResult reads text, page count, layout confidence and languages from a processed document.
func documentResult(doc *documentaipb.Document) *OCRResult {
	var confidenceSum float32
	var confidenceCount int
	seen := make(map[string]bool)
	var languages []string

	for _, page := range doc.Pages {
		if page.Layout != nil && page.Layout.Confidence > 0 {
			confidenceSum += page.Layout.Confidence
			confidenceCount++
		}
		for _, lang := range page.DetectedLanguages {
			if lang.LanguageCode != "" && !seen[lang.LanguageCode] {
				seen[lang.LanguageCode] = true
				languages = append(languages, lang.LanguageCode)
			}
		}
	}

	result := &OCRResult{
		Text:          doc.Text,
		PageCount:     len(doc.Pages),
		LanguageCodes: languages,
	}
	if confidenceCount > 0 {
		result.Confidence = confidenceSum / float32(confidenceCount)
	}
	return result
}

// Close closes the underlying Document AI client.
func (d *DocumentAIOCRService) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
