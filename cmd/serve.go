package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"invoicexl/internal/config"
	"invoicexl/internal/export"
	"invoicexl/internal/logger"
	"invoicexl/internal/server"
	"invoicexl/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion pipeline over HTTP",
	Long: `Start an HTTP server that accepts multipart uploads with "sales" and
"purchase" file fields.

  POST /v1/convert   returns invoices.xlsx
  POST /v1/extract   returns the run result as JSON
  GET  /v1/runs      lists recorded runs (needs DATABASE_URL)
  GET  /healthz      liveness

The server stops gracefully on SIGINT or SIGTERM.`,
	Example: `  # Listen on the default SERVER_ADDR (:8080)
  invoicexl serve

  # Custom address with chat model completion
  invoicexl serve --addr 127.0.0.1:9000 --complete`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: SERVER_ADDR)")
	serveCmd.Flags().Bool("complete", false, "Fill missing fields with the chat model (needs OPENAI_API_KEY)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	complete, _ := cmd.Flags().GetBool("complete")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.ServerAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, rules, closeOCR, err := buildPipeline(ctx, cfg, complete, log)
	if err != nil {
		return err
	}
	defer closeOCR()

	opts := server.Options{MaxUploadBytes: cfg.MaxUploadBytes}
	if cfg.DatabaseURL != "" {
		runs, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer runs.Close()
		opts.Store = runs
		log.Info().Msg("Run history enabled")
	}

	srv := server.New(p, export.NewWriter(rules.TaxIDName), opts)
	return srv.ListenAndServe(ctx, addr)
}
