package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"invoicexl/internal/config"
	"invoicexl/internal/export"
	"invoicexl/internal/logger"
	"invoicexl/internal/pipeline"
	"invoicexl/internal/sheets"
	"invoicexl/internal/store"
	"invoicexl/pkg/models"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert sales and purchase invoices into a reconciled workbook",
	Long: `Process sales and purchase invoices in parallel and write invoices.xlsx.

The "Invoices" sheet holds four tables stacked top to bottom, each followed by
two blank rows: sales, purchase, the per-rate summary (sales tax minus purchase
tax per slab) and the company directory. The "Issues" sheet lists every
document that failed ingestion or OCR, had missing fields or broke a validation
rule. A failing document never stops the run.

--sales and --purchase take files or folders and may be repeated. Folders are
scanned for PDF, PNG and JPEG files.

Optional environment variables:
  BATCH_WORKERS      - Number of parallel workers (default: 4)
  OWN_TAX_IDS        - Comma-separated GSTINs of your own company
  OWN_COMPANY_NAMES  - Comma-separated names of your own company
  EXCLUDE_INVALID    - Leave records that fail validation out of the summary
  GOOGLE_SHEET_URL   - Also write the tables to this Google Sheet
  DATABASE_URL       - Record the run in PostgreSQL`,
	Example: `  # Convert two folders
  invoicexl convert --sales ./sales --purchase ./purchases

  # Fill gaps with the chat model and write to a custom path
  invoicexl convert --sales inv1.pdf --sales inv2.jpg --complete -o april.xlsx

  # Also push the tables to a Google Sheet
  invoicexl convert --sales ./sales --sheet-url https://docs.google.com/spreadsheets/d/...`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringSlice("sales", nil, "Sales invoice files or folders")
	convertCmd.Flags().StringSlice("purchase", nil, "Purchase invoice files or folders")
	convertCmd.Flags().StringP("output", "o", export.FileName, "Workbook output path")
	convertCmd.Flags().Bool("complete", false, "Fill missing fields with the chat model (needs OPENAI_API_KEY)")
	convertCmd.Flags().String("sheet-url", "", "Google Sheets URL to write the tables to (default: GOOGLE_SHEET_URL)")
	convertCmd.Flags().Bool("verbose", false, "Show detailed processing information")
	convertCmd.Flags().Duration("timeout", 30*time.Minute, "Processing timeout")
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("convert")

	salesPaths, _ := cmd.Flags().GetStringSlice("sales")
	purchasePaths, _ := cmd.Flags().GetStringSlice("purchase")
	outputPath, _ := cmd.Flags().GetString("output")
	complete, _ := cmd.Flags().GetBool("complete")
	sheetURL, _ := cmd.Flags().GetString("sheet-url")
	verbose, _ := cmd.Flags().GetBool("verbose")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if len(salesPaths) == 0 && len(purchasePaths) == 0 {
		return fmt.Errorf("nothing to convert: pass --sales and/or --purchase")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if sheetURL == "" {
		sheetURL = cfg.GoogleSheetURL
	}

	sales, err := collectUploads(salesPaths, models.ClassSales, log)
	if err != nil {
		return err
	}
	purchases, err := collectUploads(purchasePaths, models.ClassPurchase, log)
	if err != nil {
		return err
	}
	uploads := append(sales, purchases...)
	if len(uploads) == 0 {
		fmt.Println("No PDF, PNG or JPEG files found.")
		return nil
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	p, rules, closeOCR, err := buildPipeline(ctx, cfg, complete, log)
	if err != nil {
		return err
	}
	defer closeOCR()

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                         INVOICE CONVERSION")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Sales invoices:    %d\n", len(sales))
	fmt.Printf("Purchase invoices: %d\n", len(purchases))
	fmt.Printf("Rule set:          %s\n", rules.Name)
	fmt.Printf("OCR provider:      %s\n", cfg.OCRProvider)
	fmt.Printf("Processing with %d parallel workers...\n\n", cfg.BatchWorkers)

	p = p.WithProgress(func(done, total int, doc *pipeline.DocumentResult) {
		printProgress(done, total, doc, verbose)
	})

	res, err := p.Run(ctx, uploads)
	if err != nil {
		return err
	}

	writer := export.NewWriter(rules.TaxIDName)
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if err := writer.Write(file, res.Report, res.Issues); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	success, warning, failed := res.Counts()
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Successful: %d\n", success)
	if warning > 0 {
		fmt.Printf("With warnings: %d\n", warning)
	}
	if failed > 0 {
		fmt.Printf("Failed: %d\n", failed)
	}
	total := res.Report.Summary.Total
	fmt.Printf("Sales tax: %s  Purchase tax: %s  Net payable: %s %s\n",
		total.SalesTax.StringFixed(2), total.PurchaseTax.StringFixed(2), total.NetPayable.StringFixed(2), rules.Currency)
	fmt.Printf("Workbook: %s\n", outputPath)

	if sheetURL != "" {
		fmt.Println("Writing tables to Google Sheet...")
		sheetsService, err := sheets.NewSheetsService(ctx, sheetURL)
		if err != nil {
			return fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
		if err := sheetsService.WriteTables(ctx, cfg.GoogleSheetWorksheet, export.Tables(res.Report, rules.TaxIDName)); err != nil {
			return fmt.Errorf("failed to write to Google Sheet: %w", err)
		}
		fmt.Printf("Sheet: %s\n", cfg.GoogleSheetWorksheet)
		fmt.Printf("URL: %s\n", sheetURL)
	}

	if cfg.DatabaseURL != "" {
		if err := recordRun(ctx, cfg.DatabaseURL, res); err != nil {
			log.Warn().Err(err).Msg("Failed to record run")
		}
	}

	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Str("run_id", res.RunID).
		Int("total", len(uploads)).
		Int("success", success).
		Int("warnings", warning).
		Int("errors", failed).
		Str("output", outputPath).
		Msg("Conversion completed")

	return nil
}

func printProgress(done, total int, doc *pipeline.DocumentResult, verbose bool) {
	symbol := "✓"
	switch doc.Status {
	case pipeline.StatusWarning:
		symbol = "⚠"
	case pipeline.StatusError:
		symbol = "✗"
	}
	fmt.Printf("[%d/%d] %s %s (%s)\n", done, total, symbol, doc.Document.Filename, doc.Document.Class)

	if !verbose {
		return
	}
	for _, is := range doc.Issues {
		detail := is.Message
		if len(is.Fields) > 0 {
			detail += ": " + strings.Join(is.Fields, ", ")
		}
		fmt.Printf("        %s %s\n", is.Kind, detail)
	}
}

func recordRun(ctx context.Context, dsn string, res *pipeline.Result) error {
	s, err := store.Open(dsn)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.SaveRun(ctx, res)
}
