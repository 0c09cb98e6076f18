// Package normalize converts harvested delimited exports into the canonical
// spreadsheet format the consuming repository expects. No column contract is
// enforced here: the schema is whatever the portal exported.
package normalize

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"portalsync/internal/logfields"
)

// CanonicalExt is the extension of normalized artifacts.
const CanonicalExt = ".xlsx"

const sheetName = "Sheet1"

// ConversionError indicates the delimited file could not be parsed or the
// canonical artifact could not be written. Per-target and non-fatal upstream.
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Normalize parses the CSV at csvPath into a row/column table, writes it as
// {stem}.xlsx under dataDir, and deletes the original. Returns the artifact
// path. Rows may vary in width; numeric-looking cells are written as numbers
// so the spreadsheet carries native types.
func Normalize(csvPath, dataDir, stem string) (string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return "", &ConversionError{Path: csvPath, Err: err}
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	_ = f.Close()
	if err != nil {
		return "", &ConversionError{Path: csvPath, Err: err}
	}
	if len(rows) == 0 {
		return "", &ConversionError{Path: csvPath, Err: fmt.Errorf("empty export")}
	}

	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", &ConversionError{Path: csvPath, Err: err}
		}
		values := make([]any, len(row))
		for j, field := range row {
			values[j] = coerce(field)
		}
		if err := book.SetSheetRow(sheetName, cell, &values); err != nil {
			return "", &ConversionError{Path: csvPath, Err: err}
		}
	}

	out := filepath.Join(dataDir, stem+CanonicalExt)
	if err := book.SaveAs(out); err != nil {
		return "", &ConversionError{Path: csvPath, Err: err}
	}

	if err := os.Remove(csvPath); err != nil {
		slog.Warn("Failed to remove harvested file", logfields.Path(csvPath), logfields.Error(err))
	}

	slog.Info("Normalized artifact written", logfields.Stem(stem), logfields.Path(out), logfields.Count(len(rows)))
	return out, nil
}

// coerce maps a CSV field to the spreadsheet's native types: integers and
// floats become numbers, everything else stays a string.
func coerce(field string) any {
	if field == "" {
		return ""
	}
	if n, err := strconv.ParseInt(field, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(field, 64); err == nil {
		return x
	}
	return field
}
