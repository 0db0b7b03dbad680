// Package xlsx renders receipt records as an Excel workbook.
package xlsx

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

const (
	SheetName   = "Receipts"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []any{
	"Record ID", "Status", "Store", "Total", "Currency", "Date", "Ticket", "Failure reason", "Source", "Created at",
}

// WriteRecords writes one row per record, in the order given, below a bold
// header row.
func WriteRecords(w io.Writer, records []domain.Record) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "J1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d cell: %w", i+2, err)
		}
		row := recordRow(rec)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 38); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "C", "C", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "H", "H", 36); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func recordRow(rec domain.Record) []any {
	row := []any{
		rec.ID, string(rec.Status), "", "", "", "", "", rec.FailureReason, rec.SourceRef,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.Fields == nil {
		return row
	}
	row[2] = deref(rec.Fields.StoreName)
	if rec.Fields.TotalAmount != nil {
		row[3] = *rec.Fields.TotalAmount
	}
	row[4] = deref(rec.Fields.Currency)
	row[5] = deref(rec.Fields.Date)
	row[6] = deref(rec.Fields.TicketNumber)
	return row
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
