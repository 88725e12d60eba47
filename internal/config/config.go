package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoicexl/internal/logger"
)

// OCR provider names accepted in OCR_PROVIDER.
const (
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
	ProviderAzure      = "azure"
	ProviderPDFText    = "pdftext"
)

type Config struct {
	// OCR Configuration
	OCRProvider       string
	OCRPDFTextFirst   bool
	OCRTimeout        time.Duration
	OCRMaxAttempts    int
	OCRInitialBackoff time.Duration
	OCRMaxBackoff     time.Duration
	OCREnhanceImages  bool

	// Google Cloud Configuration
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Azure Computer Vision Configuration
	AzureVisionEndpoint string
	AzureVisionKey      string

	// Pipeline Configuration
	BatchWorkers     int
	MaxDocumentBytes int64
	RuleSetFile      string
	OwnTaxIDs        []string
	OwnCompanyNames  []string
	SlabTolerance    decimal.Decimal
	SumTolerance     decimal.Decimal
	ExcludeInvalid   bool

	// Google Sheets Configuration
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// OpenAI Configuration
	OpenAIAPIKey         string
	OpenAIModel          string
	CompletionMaxRetries int

	// Server Configuration
	ServerAddr     string
	MaxUploadBytes int64
	DatabaseURL    string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OCRProvider:           strings.ToLower(getEnv("OCR_PROVIDER", ProviderVision)),
		OCRPDFTextFirst:       getBool("OCR_PDF_TEXT_FIRST", false),
		OCRTimeout:            getSeconds("OCR_TIMEOUT", 60*time.Second),
		OCRMaxAttempts:        getInt("OCR_MAX_ATTEMPTS", 3),
		OCRInitialBackoff:     getMillis("OCR_INITIAL_BACKOFF", 500*time.Millisecond),
		OCRMaxBackoff:         getMillis("OCR_MAX_BACKOFF", 8*time.Second),
		OCREnhanceImages:      getBool("OCR_ENHANCE_IMAGES", false),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		AzureVisionEndpoint:   getEnv("AZURE_VISION_ENDPOINT", ""),
		AzureVisionKey:        getEnv("AZURE_VISION_KEY", ""),
		BatchWorkers:          getInt("BATCH_WORKERS", 4),
		MaxDocumentBytes:      int64(getInt("MAX_DOCUMENT_BYTES", 20*1024*1024)),
		RuleSetFile:           getEnv("RULESET_FILE", ""),
		OwnTaxIDs:             getList("OWN_TAX_IDS"),
		OwnCompanyNames:       getList("OWN_COMPANY_NAMES"),
		ExcludeInvalid:        getBool("EXCLUDE_INVALID", false),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "Invoices"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		CompletionMaxRetries:  getInt("COMPLETION_MAX_RETRIES", 3),
		ServerAddr:            getEnv("SERVER_ADDR", ":8080"),
		MaxUploadBytes:        int64(getInt("MAX_UPLOAD_BYTES", 100*1024*1024)),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.SlabTolerance, err = getDecimal("SLAB_TOLERANCE", "0.005"); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.SumTolerance, err = getDecimal("SUM_TOLERANCE", "1.00"); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.OCRProvider {
	case ProviderVision, ProviderDocumentAI, ProviderAzure, ProviderPDFText:
	default:
		return fmt.Errorf("OCR_PROVIDER must be one of vision, documentai, azure, pdftext (got %q)", c.OCRProvider)
	}
	if c.OCRMaxAttempts < 1 {
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be at least 1")
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive")
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1")
	}
	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("MAX_DOCUMENT_BYTES must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.SlabTolerance.IsNegative() || c.SlabTolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("SLAB_TOLERANCE must be in [0, 1)")
	}
	if c.SumTolerance.IsNegative() {
		return fmt.Errorf("SUM_TOLERANCE must not be negative")
	}
	return nil
}

// ValidateProvider checks the settings the selected OCR provider needs.
// It is separate from Load so that commands which never call OCR can run without credentials.
func (c *Config) ValidateProvider() error {
	switch c.OCRProvider {
	case ProviderDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the documentai provider")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai provider")
		}
	case ProviderAzure:
		if c.AzureVisionEndpoint == "" || c.AzureVisionKey == "" {
			return fmt.Errorf("AZURE_VISION_ENDPOINT and AZURE_VISION_KEY are required for the azure provider")
		}
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

func getMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}

func getDecimal(key, defaultValue string) (decimal.Decimal, error) {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal number (got %q)", key, raw)
	}
	return d, nil
}

func getList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
