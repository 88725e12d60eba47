package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/rs/zerolog"

	"invoicexl/internal/logger"
)

// ProviderAzure is the Provider name reported by AzureOCRService.
const ProviderAzure = "azure"

// AzureOCRService implements OCRService with Azure Computer Vision printed-text OCR.
// It reads PNG and JPEG images; PDFs are rejected with ErrUnsupportedFormat.
type AzureOCRService struct {
	client   computervision.BaseClient
	enhancer *Enhancer
	log      zerolog.Logger
}

// NewAzureOCRService creates a client for the given endpoint and subscription key.
func NewAzureOCRService(endpoint, apiKey string, enhancer *Enhancer) *AzureOCRService {
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)

	return &AzureOCRService{
		client:   client,
		enhancer: enhancer,
		log:      logger.WithComponent("ocr-azure"),
	}
}

// ProcessDocument extracts text from an image.
func (a *AzureOCRService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, a, data, mimeType)
}

// ProcessDocumentWithMetadata extracts text from an image with additional metadata.
func (a *AzureOCRService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "AzureProcessDocument"
	startTime := time.Now()

	if mimeType != MimePNG && mimeType != MimeJPEG {
		return nil, WrapOCRError(op, ErrUnsupportedFormat, fmt.Sprintf("azure OCR reads images only, got %s", mimeType))
	}

	content, err := readDocument(op, data)
	if err != nil {
		return nil, err
	}

	if a.enhancer != nil {
		enhanced, err := a.enhancer.Enhance(content)
		if err != nil {
			a.log.Warn().Err(err).Msg("Image enhancement failed, sending original")
		} else {
			content = enhanced
		}
	}

	result, err := a.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(content)),
		computervision.OcrLanguagesUnk,
	)
	if err != nil {
		return nil, WrapOCRError(op, classifyAPIError(err), fmt.Sprintf("Computer Vision call failed: %v", err))
	}

	text := textFromOcrResult(result)
	if strings.TrimSpace(text) == "" {
		return nil, WrapOCRError(op, ErrEmptyDocument, "no text regions detected")
	}

	var languages []string
	if result.Language != nil && *result.Language != "" {
		languages = []string{*result.Language}
	}

	processedAt := time.Now()
	return &OCRResult{
		Text:               text,
		PageCount:          1,
		LanguageCodes:      languages,
		ProcessedAt:        processedAt,
		ProcessingDuration: processedAt.Sub(startTime),
		Provider:           ProviderAzure,
	}, nil
}

// textFromOcrResult joins the words of every line, one text line per OCR line,
// regions in the order the service returns them.
func textFromOcrResult(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var b strings.Builder
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
	}
	return b.String()
}
