package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoicexl/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicexl",
	Short: "Turn scanned GST invoices into a reconciled Excel workbook",
	Long: `invoicexl reads sales and purchase invoices (PDF, PNG, JPEG), runs them
through OCR, extracts the invoice fields, validates them and reconciles the
tax slabs into a single workbook.

Subcommands cover each stage: "ocr" prints the text of one document, "extract"
shows the fields found in it, "convert" builds the workbook for a batch and
"serve" exposes the same operations over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
