package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invoicexl/internal/config"
	"invoicexl/internal/logger"
	"invoicexl/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract and validate the fields of one invoice",
	Long: `Run one document through OCR, extraction and validation and print the
result as JSON: the extracted record with the rule and line each field came
from, the fields that could not be found, and any validation violations.

The class decides which party is the counterparty: for sales invoices it is
the buyer, for purchase invoices the seller.`,
	Example: `  # Extract a sales invoice
  invoicexl extract invoice.pdf --class sales

  # Extract a purchase bill, fill gaps with the chat model, include the text lines
  invoicexl extract bill.jpg --class purchase --complete --lines -o bill.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// ExtractOutput is the JSON document printed by the extract command.
type ExtractOutput struct {
	Record   models.ValidatedRecord `json:"record"`
	Issues   []models.RunIssue      `json:"issues,omitempty"`
	Status   string                 `json:"status"`
	Lines    []string               `json:"lines,omitempty"`
	Metadata ExtractMetadata        `json:"metadata"`
}

// ExtractMetadata contains information about the processing operation
type ExtractMetadata struct {
	FileName    string    `json:"file_name"`
	MimeType    string    `json:"mime_type"`
	PageCount   int       `json:"page_count,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Attempts    int       `json:"ocr_attempts,omitempty"`
	RuleSet     string    `json:"rule_set"`
	ProcessedAt time.Time `json:"processed_at"`
	Duration    string    `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("class", "", "Document class: sales or purchase [REQUIRED]")
	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("complete", false, "Fill missing fields with the chat model (needs OPENAI_API_KEY)")
	extractCmd.Flags().Bool("lines", false, "Include the normalized text lines in the output")
	extractCmd.Flags().Duration("timeout", 2*time.Minute, "Processing timeout")

	extractCmd.MarkFlagRequired("class")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	classFlag, _ := cmd.Flags().GetString("class")
	outputPath, _ := cmd.Flags().GetString("output")
	complete, _ := cmd.Flags().GetBool("complete")
	includeLines, _ := cmd.Flags().GetBool("lines")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	class, ok := models.ParseDocumentClass(classFlag)
	if !ok {
		return fmt.Errorf("invalid class: %s (must be 'sales' or 'purchase')", classFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	uploads, err := collectUploads(args[:1], class, log)
	if err != nil {
		return err
	}
	if len(uploads) != 1 {
		return fmt.Errorf("expected exactly one document, found %d", len(uploads))
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	p, rules, closeOCR, err := buildPipeline(ctx, cfg, complete, log)
	if err != nil {
		return err
	}
	defer closeOCR()

	log.Info().
		Str("file", args[0]).
		Str("class", string(class)).
		Bool("complete", complete).
		Msg("Starting extraction")

	res, err := p.Run(ctx, uploads)
	if err != nil {
		return err
	}
	doc := res.Documents[0]

	out := ExtractOutput{
		Record: doc.Record,
		Issues: doc.Issues,
		Status: doc.Status,
		Metadata: ExtractMetadata{
			FileName:    doc.Document.Filename,
			MimeType:    doc.Document.MimeType,
			PageCount:   doc.Document.PageCount,
			RuleSet:     rules.Name,
			ProcessedAt: res.FinishedAt,
			Duration:    res.FinishedAt.Sub(res.StartedAt).String(),
		},
	}
	if doc.OCR != nil {
		out.Metadata.Provider = doc.OCR.Provider
		out.Metadata.Attempts = doc.OCR.Attempts
	}
	if includeLines {
		out.Lines = doc.Lines
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	data = append(data, '\n')

	log.Info().
		Str("status", doc.Status).
		Int("gaps", len(doc.Record.Record.Gaps)).
		Int("violations", len(doc.Record.Violations)).
		Msg("Extraction completed")

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
