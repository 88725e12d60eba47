package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoicexl/internal/completion"
	"invoicexl/internal/config"
	"invoicexl/internal/ocr"
	"invoicexl/internal/pipeline"
	"invoicexl/internal/ruleset"
	"invoicexl/internal/validate"
	"invoicexl/pkg/models"
)

// documentExtensions are the file types picked up from folders.
var documentExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// loadRules compiles the configured rule set and applies our own identity.
func loadRules(cfg *config.Config) (*ruleset.Rules, error) {
	var (
		rules *ruleset.Rules
		err   error
	)
	if cfg.RuleSetFile != "" {
		rules, err = ruleset.LoadFile(cfg.RuleSetFile)
	} else {
		rules, err = ruleset.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule set: %w", err)
	}
	return rules.WithOwnIdentity(cfg.OwnTaxIDs, cfg.OwnCompanyNames), nil
}

// buildPipeline wires OCR, rules, validation and optional completion. The
// returned close function is never nil.
func buildPipeline(ctx context.Context, cfg *config.Config, complete bool, log zerolog.Logger) (*pipeline.Pipeline, *ruleset.Rules, func() error, error) {
	noop := func() error { return nil }

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, nil, noop, err
	}

	svc, closeOCR, err := ocr.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, noop, handleOCRError(err, log)
	}

	opts := pipeline.Options{
		Workers:          cfg.BatchWorkers,
		MaxDocumentBytes: cfg.MaxDocumentBytes,
		ExcludeInvalid:   cfg.ExcludeInvalid,
	}
	if complete {
		completer, err := completion.NewCompleter(cfg.OpenAIAPIKey, rules, completion.Config{
			Model:      cfg.OpenAIModel,
			MaxRetries: cfg.CompletionMaxRetries,
		})
		if err != nil {
			closeOCR()
			return nil, nil, noop, err
		}
		opts.Completer = completer
	}

	validator := validate.NewValidator(rules, cfg.SlabTolerance, cfg.SumTolerance)
	log.Debug().
		Str("rule_set", rules.Name).
		Int("workers", opts.Workers).
		Bool("completion", complete).
		Msg("Pipeline ready")

	return pipeline.New(svc, rules, validator, opts), rules, closeOCR, nil
}

// collectUploads reads every path as one class. Folders are walked for
// supported document types in name order.
func collectUploads(paths []string, class models.DocumentClass, log zerolog.Logger) ([]pipeline.Upload, error) {
	var uploads []pipeline.Upload
	for _, path := range paths {
		files, err := findDocuments(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}
			log.Debug().
				Str("file", file).
				Str("class", string(class)).
				Int("size", len(data)).
				Msg("Document queued")
			uploads = append(uploads, pipeline.Upload{
				Filename: filepath.Base(file),
				Class:    class,
				Data:     data,
			})
		}
	}
	return uploads, nil
}

// findDocuments returns path itself for a file, or the supported documents below a folder.
func findDocuments(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && documentExtensions[strings.ToLower(filepath.Ext(fi.Name()))] {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout or processing fewer files")
	case errors.Is(err, context.Canceled), errors.Is(err, ocr.ErrContextCanceled):
		return fmt.Errorf("processing was canceled")
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("OCR credentials are not configured for provider %q. Please set one of:\n\n"+
			"1. GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS for vision/documentai\n"+
			"2. AZURE_VISION_ENDPOINT and AZURE_VISION_KEY for azure\n"+
			"3. OCR_PROVIDER=pdftext for PDFs with a text layer\n\n"+
			"Original error: %w", os.Getenv("OCR_PROVIDER"), err)
	case errors.Is(err, ocr.ErrFileTooLarge):
		return fmt.Errorf("file is too large (maximum %d bytes). Try compressing or splitting the file", ocr.MaxFileSizeBytes)
	case errors.Is(err, ocr.ErrTooManyPages):
		return fmt.Errorf("document has too many pages for synchronous OCR. Try splitting it")
	case errors.Is(err, ocr.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported document type for this OCR provider: %w", err)
	case errors.Is(err, ocr.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the document")
	case errors.Is(err, ocr.ErrQuotaExceeded):
		return fmt.Errorf("OCR quota exceeded after %d attempt(s). Check your provider quotas", ocr.AttemptsOf(err))
	case ocr.IsTransient(err):
		return fmt.Errorf("OCR service unavailable after %d attempt(s): %w", ocr.AttemptsOf(err), err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}
