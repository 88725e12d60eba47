package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OCR_PROVIDER", "")
	t.Setenv("BATCH_WORKERS", "")
	t.Setenv("SLAB_TOLERANCE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OCRProvider != ProviderVision {
		t.Errorf("Expected provider vision, got %s", cfg.OCRProvider)
	}
	if cfg.BatchWorkers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.BatchWorkers)
	}
	if !cfg.SlabTolerance.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("Expected slab tolerance 0.005, got %s", cfg.SlabTolerance)
	}
	if cfg.OCRTimeout != 60*time.Second {
		t.Errorf("Expected 60s OCR timeout, got %v", cfg.OCRTimeout)
	}
	if cfg.GoogleSheetWorksheet != "Invoices" {
		t.Errorf("Expected worksheet Invoices, got %s", cfg.GoogleSheetWorksheet)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OCR_PROVIDER", "PDFTEXT")
	t.Setenv("OCR_MAX_ATTEMPTS", "5")
	t.Setenv("OCR_INITIAL_BACKOFF", "20")
	t.Setenv("OWN_TAX_IDS", " 27AAPFU0939F1ZV , ,29ABCDE1234F1Z5")
	t.Setenv("EXCLUDE_INVALID", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OCRProvider != ProviderPDFText {
		t.Errorf("Expected provider pdftext, got %s", cfg.OCRProvider)
	}
	if cfg.OCRMaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.OCRMaxAttempts)
	}
	if cfg.OCRInitialBackoff != 20*time.Millisecond {
		t.Errorf("Expected 20ms backoff, got %v", cfg.OCRInitialBackoff)
	}
	if len(cfg.OwnTaxIDs) != 2 || cfg.OwnTaxIDs[1] != "29ABCDE1234F1Z5" {
		t.Errorf("Unexpected own tax IDs: %v", cfg.OwnTaxIDs)
	}
	if !cfg.ExcludeInvalid {
		t.Error("Expected ExcludeInvalid to be true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"OCR_PROVIDER", "tesseract"},
		{"OCR_MAX_ATTEMPTS", "0"},
		{"BATCH_WORKERS", "-1"},
		{"SLAB_TOLERANCE", "abc"},
		{"SLAB_TOLERANCE", "1.5"},
		{"SUM_TOLERANCE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidateProvider(t *testing.T) {
	cfg := &Config{OCRProvider: ProviderDocumentAI}
	if err := cfg.ValidateProvider(); err == nil {
		t.Error("Expected error for documentai without project")
	}

	cfg.GoogleCloudProject = "proj"
	cfg.DocumentAIProcessorID = "proc"
	if err := cfg.ValidateProvider(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	cfg = &Config{OCRProvider: ProviderAzure, AzureVisionEndpoint: "https://x"}
	if err := cfg.ValidateProvider(); err == nil {
		t.Error("Expected error for azure without key")
	}

	cfg = &Config{OCRProvider: ProviderVision}
	if err := cfg.ValidateProvider(); err != nil {
		t.Errorf("Vision needs no extra settings, got %v", err)
	}
}
