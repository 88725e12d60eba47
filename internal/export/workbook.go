package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"invoicexl/internal/logger"
	"invoicexl/internal/reconciliation"
	"invoicexl/pkg/models"
)

// Writer renders workbooks.
type Writer struct {
	taxIDName string
	log       zerolog.Logger
}

// NewWriter creates a workbook writer. taxIDName labels the tax identifier columns.
func NewWriter(taxIDName string) *Writer {
	return &Writer{
		taxIDName: taxIDName,
		log:       logger.WithComponent("export"),
	}
}

// Write renders the report and issues as an .xlsx workbook to w.
func (wr *Writer) Write(w io.Writer, report *reconciliation.Report, issues []models.RunIssue) error {
	const op = "Write"

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", InvoicesSheet); err != nil {
		return fmt.Errorf("%s: failed to rename sheet: %w", op, err)
	}
	if _, err := f.NewSheet(IssuesSheet); err != nil {
		return fmt.Errorf("%s: failed to add issues sheet: %w", op, err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("%s: failed to create header style: %w", op, err)
	}

	rows, headers := Stack(Tables(report, wr.taxIDName))
	if err := writeRows(f, InvoicesSheet, rows, headers, bold); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	issueRows, issueHeaders := Stack([]Table{IssueTable(issues)})
	if err := writeRows(f, IssuesSheet, issueRows, issueHeaders, bold); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.SetColWidth(InvoicesSheet, "A", "M", 18); err != nil {
		return fmt.Errorf("%s: failed to set column width: %w", op, err)
	}
	if err := f.SetColWidth(IssuesSheet, "A", "C", 28); err != nil {
		return fmt.Errorf("%s: failed to set column width: %w", op, err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%s: failed to write workbook: %w", op, err)
	}

	wr.log.Debug().
		Int("rows", len(rows)).
		Int("issues", len(issues)).
		Msg("Workbook written")
	return nil
}

// Bytes renders the workbook into memory.
func (wr *Writer) Bytes(report *reconciliation.Report, issues []models.RunIssue) ([]byte, error) {
	var buf bytes.Buffer
	if err := wr.Write(&buf, report, issues); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}, headers []int, headerStyle int) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}

	for _, h := range headers {
		width := len(rows[h])
		if width == 0 {
			continue
		}
		start, err := excelize.CoordinatesToCellName(1, h+1)
		if err != nil {
			return err
		}
		end, err := excelize.CoordinatesToCellName(width, h+1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, start, end, headerStyle); err != nil {
			return fmt.Errorf("failed to style header of %s: %w", sheet, err)
		}
	}
	return nil
}
