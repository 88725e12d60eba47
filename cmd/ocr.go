package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicexl/internal/config"
	"invoicexl/internal/logger"
	"invoicexl/internal/normalize"
	"invoicexl/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Extract the text of one invoice with the configured OCR provider",
	Long: `Run a single PDF, PNG or JPEG document through OCR and print its text.

By default the text is normalized the way the extractor sees it: one trimmed,
non-empty line per output line. Use --raw for the provider's text as returned.

The provider is chosen with OCR_PROVIDER (vision, documentai, azure, pdftext).
Transient provider errors are retried up to OCR_MAX_ATTEMPTS times.`,
	Example: `  # Normalized text to stdout
  invoicexl ocr invoice.pdf

  # Raw provider text with metadata as JSON
  invoicexl ocr scan.jpg --raw --json -o result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text          string    `json:"text,omitempty"`
	Lines         []string  `json:"lines,omitempty"`
	PageCount     int       `json:"page_count,omitempty"`
	Confidence    float32   `json:"confidence,omitempty"`
	LanguageCodes []string  `json:"language_codes,omitempty"`
	Provider      string    `json:"provider"`
	Attempts      int       `json:"attempts"`
	ProcessedAt   time.Time `json:"processed_at"`
	Duration      string    `json:"processing_duration"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	MimeType      string    `json:"mime_type"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("raw", false, "Print the provider text without normalization")
	ocrCmd.Flags().BoolP("metadata", "m", false, "Include metadata in output")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Duration("timeout", 5*time.Minute, "Processing timeout")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	raw, _ := cmd.Flags().GetBool("raw")
	includeMetadata, _ := cmd.Flags().GetBool("metadata")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	path := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf("path is not a regular file: %s", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	mimeType := mt.String()
	for _, supported := range []string{ocr.MimePDF, ocr.MimePNG, ocr.MimeJPEG} {
		if mt.Is(supported) {
			mimeType = supported
		}
	}
	if !ocr.IsSupported(mimeType) {
		return fmt.Errorf("unsupported file type %s (expected PDF, PNG or JPEG)", mt.String())
	}

	log.Info().
		Str("file", path).
		Str("mime_type", mimeType).
		Str("provider", cfg.OCRProvider).
		Dur("timeout", timeout).
		Msg("Starting OCR processing")

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	svc, closeOCR, err := ocr.NewFromConfig(ctx, cfg)
	if err != nil {
		return handleOCRError(err, log)
	}
	defer closeOCR()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close file")
		}
	}()

	start := time.Now()
	result, err := svc.ProcessDocumentWithMetadata(ctx, file, mimeType)
	if err != nil {
		return handleOCRError(err, log)
	}
	duration := time.Since(start)

	log.Info().
		Int("page_count", result.PageCount).
		Float32("confidence", result.Confidence).
		Int("attempts", result.Attempts).
		Dur("duration", duration).
		Int("text_length", len(result.Text)).
		Msg("OCR processing completed successfully")

	out := OCROutput{
		PageCount:     result.PageCount,
		Confidence:    result.Confidence,
		LanguageCodes: result.LanguageCodes,
		Provider:      result.Provider,
		Attempts:      result.Attempts,
		ProcessedAt:   result.ProcessedAt,
		Duration:      duration.String(),
		FileName:      filepath.Base(fileInfo.Name()),
		FileSize:      fileInfo.Size(),
		MimeType:      mimeType,
	}
	if raw {
		out.Text = result.Text
	} else {
		out.Lines = normalize.Normalize(result.Text)
	}

	return writeOCROutput(out, outputPath, jsonOutput, includeMetadata, log)
}

func writeOCROutput(out OCROutput, outputPath string, jsonOutput, includeMetadata bool, log zerolog.Logger) error {
	var data []byte

	if jsonOutput {
		var err error
		data, err = json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		data = append(data, '\n')
	} else {
		var b strings.Builder
		if includeMetadata {
			fmt.Fprintf(&b, "=== OCR Results for %s ===\n", out.FileName)
			fmt.Fprintf(&b, "File size: %d bytes\n", out.FileSize)
			fmt.Fprintf(&b, "Provider: %s (%d attempt(s))\n", out.Provider, out.Attempts)
			if out.PageCount > 0 {
				fmt.Fprintf(&b, "Pages processed: %d\n", out.PageCount)
			}
			if out.Confidence > 0 {
				fmt.Fprintf(&b, "Confidence: %.1f%%\n", out.Confidence*100)
			}
			if len(out.LanguageCodes) > 0 {
				fmt.Fprintf(&b, "Languages: %s\n", strings.Join(out.LanguageCodes, ", "))
			}
			fmt.Fprintf(&b, "Processing time: %s\n", out.Duration)
			b.WriteString("\n=== Extracted Text ===\n\n")
		}
		if out.Lines != nil {
			b.WriteString(strings.Join(out.Lines, "\n"))
		} else {
			b.WriteString(out.Text)
		}
		b.WriteString("\n")
		data = []byte(b.String())
	}

	if outputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("OCR results written to file")
	return nil
}
