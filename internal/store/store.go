// Package store keeps a history of pipeline runs in PostgreSQL. It records what
// each run processed and the reconciled totals, not the documents themselves.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"invoicexl/internal/logger"
	"invoicexl/internal/pipeline"
)

// Run is one stored pipeline run.
type Run struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	DocumentCount int `json:"document_count"`
	Succeeded     int `json:"succeeded"`
	Warnings      int `json:"warnings"`
	Failed        int `json:"failed"`
	IssueCount    int `json:"issues"`

	SalesTax    decimal.Decimal `gorm:"type:numeric(18,2)" json:"sales_tax"`
	PurchaseTax decimal.Decimal `gorm:"type:numeric(18,2)" json:"purchase_tax"`
	NetPayable  decimal.Decimal `gorm:"type:numeric(18,2)" json:"net_payable"`

	Documents []Document `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"documents,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Document is one processed upload of a stored run.
type Document struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	RunID         string `gorm:"index;size:36" json:"-"`
	Position      int    `json:"position"`
	Filename      string `json:"filename"`
	Class         string `gorm:"size:16" json:"class"`
	Status        string `gorm:"size:16" json:"status"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	TaxID         string `gorm:"size:32" json:"tax_id,omitempty"`
	Valid         bool   `json:"valid"`
	Gaps          string `json:"gaps,omitempty"`
}

// Store persists runs with gorm.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to PostgreSQL and migrates the schema.
func Open(dsn string) (*Store, error) {
	const op = "Open"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}

	s := NewWithDB(db)
	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// NewWithDB wraps an existing gorm handle.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db, log: logger.WithComponent("store")}
}

// Migrate creates or updates the run tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Run{}, &Document{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveRun stores the run and its documents in one transaction.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Result) error {
	const op = "SaveRun"

	run := FromResult(res)
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("%s: failed to save run %s: %w", op, run.ID, err)
	}

	s.log.Debug().
		Str("run_id", run.ID).
		Int("documents", len(run.Documents)).
		Msg("Run saved")
	return nil
}

// RecentRuns returns the latest runs, newest first, without their documents.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	const op = "RecentRuns"
	if limit <= 0 {
		limit = 20
	}

	var runs []Run
	err := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return runs, nil
}

// GetRun returns one run with its documents in upload order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	const op = "GetRun"

	var run Run
	err := s.db.WithContext(ctx).
		Preload("Documents", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &run, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FromResult maps a pipeline result onto its stored form.
func FromResult(res *pipeline.Result) Run {
	success, warning, failed := res.Counts()
	run := Run{
		ID:            res.RunID,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		DocumentCount: len(res.Documents),
		Succeeded:     success,
		Warnings:      warning,
		Failed:        failed,
		IssueCount:    len(res.Issues),
	}
	if res.Report != nil {
		total := res.Report.Summary.Total
		run.SalesTax = total.SalesTax
		run.PurchaseTax = total.PurchaseTax
		run.NetPayable = total.NetPayable
	}

	for _, d := range res.Documents {
		doc := Document{
			RunID:    res.RunID,
			Position: d.Index,
			Filename: d.Document.Filename,
			Class:    string(d.Document.Class),
			Status:   d.Status,
			Valid:    d.Record.Valid,
		}
		if rec := d.Record.Record; rec != nil {
			doc.InvoiceNumber = deref(rec.InvoiceNumber)
			doc.CompanyName = deref(rec.CompanyName)
			doc.TaxID = deref(rec.TaxID)
			gaps := make([]string, len(rec.Gaps))
			for i, g := range rec.Gaps {
				gaps[i] = string(g)
			}
			doc.Gaps = strings.Join(gaps, ",")
		}
		run.Documents = append(run.Documents, doc)
	}
	return run
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
