package ocr

import (
	"context"
	"fmt"

	"invoicexl/internal/config"
	"invoicexl/internal/logger"
)

// NewFromConfig builds the configured provider, optionally behind the local PDF
// text reader, wrapped in the retry policy. The returned close function releases
// provider clients and is never nil.
func NewFromConfig(ctx context.Context, cfg *config.Config) (OCRService, func() error, error) {
	const op = "NewFromConfig"
	log := logger.WithComponent("ocr")
	noop := func() error { return nil }

	if err := cfg.ValidateProvider(); err != nil {
		return nil, noop, WrapOCRError(op, ErrMissingCredentials, err.Error())
	}

	var enhancer *Enhancer
	if cfg.OCREnhanceImages {
		enhancer = DefaultEnhancer()
	}

	var primary OCRService
	closeFn := noop
	switch cfg.OCRProvider {
	case config.ProviderVision:
		svc, err := NewGoogleVisionOCRService(ctx, enhancer)
		if err != nil {
			return nil, noop, err
		}
		primary, closeFn = svc, svc.Close
	case config.ProviderDocumentAI:
		svc, err := NewDocumentAIOCRService(ctx, DocumentAIConfig{
			ProjectID:   cfg.GoogleCloudProject,
			Location:    cfg.GoogleCloudLocation,
			ProcessorID: cfg.DocumentAIProcessorID,
		})
		if err != nil {
			return nil, noop, err
		}
		primary, closeFn = svc, svc.Close
	case config.ProviderAzure:
		primary = NewAzureOCRService(cfg.AzureVisionEndpoint, cfg.AzureVisionKey, enhancer)
	case config.ProviderPDFText:
		primary = NewPDFTextService()
	default:
		return nil, noop, WrapOCRError(op, ErrUnsupportedFormat, fmt.Sprintf("unknown OCR provider %q", cfg.OCRProvider))
	}

	if cfg.OCRPDFTextFirst && cfg.OCRProvider != config.ProviderPDFText {
		primary = NewChain(NewPDFTextService(), primary)
	}

	log.Info().
		Str("provider", cfg.OCRProvider).
		Bool("pdf_text_first", cfg.OCRPDFTextFirst).
		Int("max_attempts", cfg.OCRMaxAttempts).
		Msg("OCR provider ready")

	return NewRetryingService(primary, RetryConfig{
		MaxAttempts:    cfg.OCRMaxAttempts,
		InitialBackoff: cfg.OCRInitialBackoff,
		MaxBackoff:     cfg.OCRMaxBackoff,
		Timeout:        cfg.OCRTimeout,
	}), closeFn, nil
}
