package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/extrame/xls"

	"github.com/cleared-dev/concilia/internal/model"
)

// MaxXLSBytes bounds a spreadsheet export. The xls format is not streamable,
// so the whole workbook is read before any row is produced.
const MaxXLSBytes = 32 << 20

const maxXLSRows = 100000

// XLSParser parses legacy Excel statement exports. Banks put a preamble
// above the table, so the header row is the first row naming every required
// bound column.
type XLSParser struct{}

// Format returns the parser name.
func (p *XLSParser) Format() string { return model.FormatXLS }

// Records yields one record per data row below the header.
func (p *XLSParser) Records(ctx context.Context, r io.Reader, fm model.FieldMap) iter.Seq2[model.RawRecord, error] {
	return func(yield func(model.RawRecord, error) bool) {
		data, err := io.ReadAll(io.LimitReader(r, MaxXLSBytes+1))
		if err != nil {
			yield(model.RawRecord{}, fmt.Errorf("reading XLS: %w", err))
			return
		}
		if len(data) > MaxXLSBytes {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatXLS, Reason: fmt.Sprintf("workbook exceeds %d bytes", MaxXLSBytes)})
			return
		}

		rows, err := readWorkbook(data)
		if err != nil {
			yield(model.RawRecord{}, err)
			return
		}
		sheetRecords(ctx, rows, fm)(yield)
	}
}

// readWorkbook decodes every sheet of the workbook into rows of cell text.
// Row i of the result is spreadsheet row i+1; missing rows are nil.
func readWorkbook(data []byte) (rows [][]string, err error) {
	// The decoder indexes into the file without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, &model.StructuralParseError{Format: model.FormatXLS, Reason: fmt.Sprintf("corrupt workbook: %v", r)}
		}
	}()

	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, &model.StructuralParseError{Format: model.FormatXLS, Reason: fmt.Sprintf("opening workbook: %v", err)}
	}
	if workbook == nil {
		return nil, &model.StructuralParseError{Format: model.FormatXLS, Reason: "no workbook stream"}
	}
	return workbook.ReadAllCells(maxXLSRows), nil
}

// sheetRecords finds the header row and yields the non-blank rows below it.
func sheetRecords(ctx context.Context, rows [][]string, fm model.FieldMap) iter.Seq2[model.RawRecord, error] {
	return func(yield func(model.RawRecord, error) bool) {
		headerAt := -1
		var columns map[string]int
		for i, row := range rows {
			if cols, err := headerColumns(row, fm); err == nil {
				headerAt, columns = i, cols
				break
			}
		}
		if headerAt < 0 {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatXLS, Reason: "no header row with the mapped columns"})
			return
		}

		emitted := 0
		for i := headerAt + 1; i < len(rows); i++ {
			if err := ctx.Err(); err != nil {
				yield(model.RawRecord{}, err)
				return
			}
			row := rows[i]
			if blankRow(row) {
				continue
			}
			emitted++
			if !yield(model.RawRecord{
				Position: i + 1,
				Fields:   project(fm, rowValues(columns, row)),
				Text:     strings.Join(row, "\t"),
			}, nil) {
				return
			}
		}
		if emitted == 0 {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatXLS, Reason: "no transaction rows after header"})
		}
	}
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
