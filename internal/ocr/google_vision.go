package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoicexl/internal/logger"
)

// MaxPagesSync is the maximum number of pages for synchronous PDF processing
const MaxPagesSync = 5

// ProviderVision is the Provider name reported by GoogleVisionOCRService.
const ProviderVision = "vision"

// GoogleVisionOCRService implements OCRService using Google Cloud Vision API.
type GoogleVisionOCRService struct {
	client   *vision.ImageAnnotatorClient
	enhancer *Enhancer
	log      zerolog.Logger
}

// googleCredentialOptions returns client options for GOOGLE_CREDENTIALS or
// GOOGLE_APPLICATION_CREDENTIALS. No options means default credentials.
func googleCredentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

// NewGoogleVisionOCRService creates a new OCR service with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
// A non-nil enhancer is applied to images before upload.
func NewGoogleVisionOCRService(ctx context.Context, enhancer *Enhancer) (*GoogleVisionOCRService, error) {
	const op = "NewGoogleVisionOCRService"

	opts := googleCredentialOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return NewGoogleVisionOCRServiceWithClient(client, enhancer), nil
}

// NewGoogleVisionOCRServiceWithClient creates a new OCR service with an explicit client (for testing).
func NewGoogleVisionOCRServiceWithClient(client *vision.ImageAnnotatorClient, enhancer *Enhancer) *GoogleVisionOCRService {
	return &GoogleVisionOCRService{
		client:   client,
		enhancer: enhancer,
		log:      logger.WithComponent("ocr-vision"),
	}
}

// ProcessDocument extracts text from a PDF or image.
func (g *GoogleVisionOCRService) ProcessDocument(ctx context.Context, data io.Reader, mimeType string) (string, error) {
	return processText(ctx, g, data, mimeType)
}

// ProcessDocumentWithMetadata extracts text from a PDF or image with additional metadata.
func (g *GoogleVisionOCRService) ProcessDocumentWithMetadata(ctx context.Context, data io.Reader, mimeType string) (*OCRResult, error) {
	const op = "ProcessDocumentWithMetadata"
	startTime := time.Now()

	content, err := readDocument(op, data)
	if err != nil {
		return nil, err
	}

	var result *OCRResult
	switch mimeType {
	case MimePDF:
		result, err = g.processPDF(ctx, content)
	case MimePNG, MimeJPEG:
		result, err = g.processImage(ctx, content, mimeType)
	default:
		return nil, WrapOCRError(op, ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return nil, err
	}

	result.Provider = ProviderVision
	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	g.log.Debug().
		Str("mime_type", mimeType).
		Int("pages", result.PageCount).
		Float32("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("Vision OCR completed")

	return result, nil
}

func (g *GoogleVisionOCRService) processPDF(ctx context.Context, pdfBytes []byte) (*OCRResult, error) {
	const op = "processPDF"

	if err := checkPDFHeader(op, pdfBytes); err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  pdfBytes,
					MimeType: MimePDF,
				},
				Features: []*visionpb.Feature{
					{
						Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
					},
				},
				Pages: nil, // Process all pages
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, WrapOCRError(op, classifyAPIError(err), fmt.Sprintf("Vision API call failed: %v", err))
	}

	if len(resp.Responses) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
	}

	result, err := processVisionPages(fileResp.Responses)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to process Vision API response")
	}
	return result, nil
}

func (g *GoogleVisionOCRService) processImage(ctx context.Context, content []byte, mimeType string) (*OCRResult, error) {
	const op = "processImage"

	if g.enhancer != nil {
		enhanced, err := g.enhancer.Enhance(content)
		if err != nil {
			g.log.Warn().Err(err).Msg("Image enhancement failed, sending original")
		} else {
			content = enhanced
		}
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{
						Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
					},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, WrapOCRError(op, classifyAPIError(err), fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	result, err := processVisionPages(resp.Responses)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to process %s response", mimeType))
	}
	return result, nil
}

// processVisionPages joins per-page annotations into one result.
func processVisionPages(pages []*visionpb.AnnotateImageResponse) (*OCRResult, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	var allText strings.Builder
	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)
	pageCount := len(pages)

	if pageCount > MaxPagesSync {
		return nil, WrapOCRError("processVisionPages", ErrTooManyPages, fmt.Sprintf("document has %d pages", pageCount))
	}

	for pageIdx, page := range pages {
		if page.Error != nil {
			return nil, fmt.Errorf("error processing page %d: %s", pageIdx+1, page.Error.Message)
		}
		if page.FullTextAnnotation == nil {
			continue
		}

		// Add page separator (except for first page)
		if pageIdx > 0 {
			fmt.Fprintf(&allText, "\n\n--- Page %d ---\n\n", pageIdx+1)
		}
		allText.WriteString(page.FullTextAnnotation.Text)

		for _, p := range page.FullTextAnnotation.Pages {
			if p.Confidence > 0 {
				confidenceSum += p.Confidence
				confidenceCount++
			}
			if p.Property == nil {
				continue
			}
			for _, lang := range p.Property.DetectedLanguages {
				if lang.LanguageCode != "" {
					languageSet[lang.LanguageCode] = true
				}
			}
		}
	}

	extractedText := allText.String()
	if strings.TrimSpace(extractedText) == "" {
		return nil, ErrEmptyDocument
	}

	var avgConfidence float32
	if confidenceCount > 0 {
		avgConfidence = confidenceSum / float32(confidenceCount)
	}

	languages := make([]string, 0, len(languageSet))
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return &OCRResult{
		Text:          extractedText,
		PageCount:     pageCount,
		Confidence:    avgConfidence,
		LanguageCodes: languages,
	}, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionOCRService) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
