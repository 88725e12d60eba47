// Package pipeline runs a batch of uploaded invoices through OCR, normalization,
// extraction, optional completion and validation, then reconciles the results.
//
// Documents are processed by a fixed pool of workers with no shared mutable
// state; each result is stored at its upload index. Aggregation is a single
// sequential pass once every document is done. A failing document never aborts
// the run: it yields an all-gaps record and entries in the run's issue list.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicexl/internal/extract"
	"invoicexl/internal/logger"
	"invoicexl/internal/normalize"
	"invoicexl/internal/ocr"
	"invoicexl/internal/reconciliation"
	"invoicexl/internal/ruleset"
	"invoicexl/internal/validate"
	"invoicexl/pkg/models"
)

// Document status values.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Upload is one document handed to a run.
type Upload struct {
	Filename string
	Class    models.DocumentClass
	Data     []byte
}

// Completer fills extraction gaps from the document text.
type Completer interface {
	Complete(ctx context.Context, rec *models.InvoiceRecord, lines []string) ([]models.Field, error)
}

// Options configures a Pipeline.
type Options struct {
	Workers          int
	MaxDocumentBytes int64
	ExcludeInvalid   bool

	// Completer is optional.
	Completer Completer

	// Progress, when set, is called once per finished document. Calls are serialized.
	Progress func(done, total int, doc *DocumentResult)
}

// DocumentResult is everything the run learned about one upload.
type DocumentResult struct {
	Index    int                    `json:"index"`
	Document models.InvoiceDocument `json:"document"`
	Lines    []string               `json:"lines,omitempty"`
	Record   models.ValidatedRecord `json:"record"`
	OCR      *ocr.OCRResult         `json:"ocr,omitempty"`
	Issues   []models.RunIssue      `json:"issues,omitempty"`
	Status   string                 `json:"status"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Documents  []DocumentResult       `json:"documents"`
	Report     *reconciliation.Report `json:"report"`
	Issues     []models.RunIssue      `json:"issues"`
}

// Counts returns the number of documents per status.
func (r *Result) Counts() (success, warning, failed int) {
	for _, d := range r.Documents {
		switch d.Status {
		case StatusSuccess:
			success++
		case StatusWarning:
			warning++
		default:
			failed++
		}
	}
	return success, warning, failed
}

// Pipeline holds the per-run collaborators. It is safe for concurrent runs.
type Pipeline struct {
	ocr        ocr.OCRService
	extractor  *extract.Extractor
	validator  *validate.Validator
	aggregator *reconciliation.Aggregator
	opts       Options
}

// New creates a pipeline around an OCR service and a compiled rule set.
func New(svc ocr.OCRService, rules *ruleset.Rules, validator *validate.Validator, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = ocr.MaxFileSizeBytes
	}
	return &Pipeline{
		ocr:        svc,
		extractor:  extract.NewExtractor(rules),
		validator:  validator,
		aggregator: reconciliation.NewAggregator(reconciliation.Options{ExcludeInvalid: opts.ExcludeInvalid}),
		opts:       opts,
	}
}

// WithProgress returns a copy of the pipeline that reports finished documents to fn.
func (p *Pipeline) WithProgress(fn func(done, total int, doc *DocumentResult)) *Pipeline {
	cp := *p
	cp.opts.Progress = fn
	return &cp
}

type job struct {
	upload Upload
	index  int
}

// Run processes uploads and reconciles them. It only returns an error when
// there is nothing to process; per-document failures end up in Result.Issues.
func (p *Pipeline) Run(ctx context.Context, uploads []Upload) (*Result, error) {
	const op = "Run"
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%s: no documents to process", op)
	}

	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Documents: make([]DocumentResult, len(uploads)),
	}
	log := logger.WithRun("pipeline", result.RunID)

	workers := p.opts.Workers
	if workers > len(uploads) {
		workers = len(uploads)
	}

	log.Info().
		Int("documents", len(uploads)).
		Int("workers", workers).
		Msg("Starting run")

	jobs := make(chan job, len(uploads))
	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for j := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", j.upload.Filename).
					Int("index", j.index+1).
					Msg("Worker processing document")

				doc := p.process(ctx, log, j.upload)
				doc.Index = j.index
				result.Documents[j.index] = doc

				if p.opts.Progress != nil {
					mu.Lock()
					processedCount++
					p.opts.Progress(processedCount, len(uploads), &result.Documents[j.index])
					mu.Unlock()
				}
			}
		}(w)
	}

	for i, u := range uploads {
		jobs <- job{upload: u, index: i}
	}
	close(jobs)
	wg.Wait()

	records := make([]models.ValidatedRecord, len(result.Documents))
	for i, doc := range result.Documents {
		records[i] = doc.Record
		result.Issues = append(result.Issues, doc.Issues...)
	}
	result.Report = p.aggregator.Aggregate(records)
	result.FinishedAt = time.Now()

	success, warning, failed := result.Counts()
	log.Info().
		Int("success", success).
		Int("warnings", warning).
		Int("errors", failed).
		Int("issues", len(result.Issues)).
		Dur("duration", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Run completed")

	return result, nil
}

// process runs one document through every per-document stage.
func (p *Pipeline) process(ctx context.Context, log zerolog.Logger, u Upload) DocumentResult {
	doc := DocumentResult{
		Document: models.InvoiceDocument{Filename: u.Filename, Class: u.Class},
		Status:   StatusSuccess,
	}
	failed := false

	mimeType, err := p.ingest(u)
	doc.Document.MimeType = mimeType
	if err != nil {
		failed = true
		doc.Issues = append(doc.Issues, models.RunIssue{
			Kind:     models.IssueIngestionFailure,
			Filename: u.Filename,
			Message:  err.Error(),
		})
		log.Warn().Err(err).Str("file", u.Filename).Msg("Document rejected at ingestion")
	} else {
		res, err := p.ocr.ProcessDocumentWithMetadata(ctx, bytes.NewReader(u.Data), mimeType)
		switch {
		case err == nil:
			doc.OCR = res
			doc.Document.Text = res.Text
			doc.Document.PageCount = res.PageCount
		case errors.Is(err, ocr.ErrEmptyDocument):
			// No text is a gap, not a failure.
			log.Info().Str("file", u.Filename).Msg("OCR found no text")
		default:
			failed = true
			doc.Issues = append(doc.Issues, models.RunIssue{
				Kind:      models.IssueOCRFailure,
				Filename:  u.Filename,
				Message:   err.Error(),
				Attempts:  ocr.AttemptsOf(err),
				Transient: ocr.IsTransient(err),
			})
			log.Warn().Err(err).Str("file", u.Filename).Msg("OCR failed")
		}
	}

	doc.Lines = normalize.Normalize(doc.Document.Text)
	rec := p.extractor.Extract(u.Filename, u.Class, doc.Lines)

	if p.opts.Completer != nil && len(rec.Gaps) > 0 && len(doc.Lines) > 0 {
		if _, err := p.opts.Completer.Complete(ctx, rec, doc.Lines); err != nil {
			log.Warn().Err(err).Str("file", u.Filename).Msg("Completion failed, keeping gaps")
		}
	}

	doc.Record = p.validator.Validate(rec)

	if len(rec.Gaps) > 0 {
		fields := make([]string, len(rec.Gaps))
		for i, g := range rec.Gaps {
			fields[i] = string(g)
		}
		doc.Issues = append(doc.Issues, models.RunIssue{
			Kind:     models.IssueExtractionGap,
			Filename: u.Filename,
			Message:  fmt.Sprintf("%d field(s) not found", len(fields)),
			Fields:   fields,
		})
	}
	if !doc.Record.Valid {
		codes := make([]string, 0, len(doc.Record.Violations))
		messages := make([]string, 0, len(doc.Record.Violations))
		for _, v := range doc.Record.Violations {
			codes = append(codes, v.Code)
			messages = append(messages, v.Message)
		}
		doc.Issues = append(doc.Issues, models.RunIssue{
			Kind:     models.IssueValidationFailure,
			Filename: u.Filename,
			Message:  strings.Join(messages, "; "),
			Fields:   codes,
		})
	}

	switch {
	case failed:
		doc.Status = StatusError
	case len(rec.Gaps) > 0 || !doc.Record.Valid:
		doc.Status = StatusWarning
	}
	return doc
}

// ingest checks size and sniffs the content type.
func (p *Pipeline) ingest(u Upload) (string, error) {
	if len(u.Data) == 0 {
		return "", errors.New("empty file")
	}
	if int64(len(u.Data)) > p.opts.MaxDocumentBytes {
		return "", fmt.Errorf("file is %d bytes, limit is %d", len(u.Data), p.opts.MaxDocumentBytes)
	}

	mt := mimetype.Detect(u.Data)
	for _, supported := range []string{ocr.MimePDF, ocr.MimePNG, ocr.MimeJPEG} {
		if mt.Is(supported) {
			return supported, nil
		}
	}
	return mt.String(), fmt.Errorf("unsupported file type %s", mt.String())
}
