package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/cleared-dev/concilia/internal/model"
)

// CSVParser parses delimited statement exports whose first row names the
// columns. The field map binds canonical fields to those column names.
type CSVParser struct{}

// Format returns the parser name.
func (p *CSVParser) Format() string { return model.FormatCSV }

// Records streams the data rows of a delimited file, one record per row.
func (p *CSVParser) Records(ctx context.Context, r io.Reader, fm model.FieldMap) iter.Seq2[model.RawRecord, error] {
	return func(yield func(model.RawRecord, error) bool) {
		delim := ','
		if fm.Delimiter != "" {
			d, size := utf8.DecodeRuneInString(fm.Delimiter)
			if size != len(fm.Delimiter) {
				yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatCSV, Reason: fmt.Sprintf("delimiter %q must be a single character", fm.Delimiter)})
				return
			}
			delim = d
		}

		cr := csv.NewReader(r)
		cr.Comma = delim
		cr.TrimLeadingSpace = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatCSV, Reason: "file is empty"})
			return
		}
		if err != nil {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatCSV, Reason: fmt.Sprintf("reading header: %v", err)})
			return
		}

		columns, err := headerColumns(header, fm)
		if err != nil {
			yield(model.RawRecord{}, err)
			return
		}

		rows := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(model.RawRecord{}, err)
				return
			}

			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			rows++

			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if !yield(model.RawRecord{}, &BlockError{
					Position: perr.StartLine,
					Reason:   perr.Err.Error(),
					Raw:      strings.Join(rec, string(delim)),
				}) {
					return
				}
				continue
			}
			if err != nil {
				yield(model.RawRecord{}, fmt.Errorf("reading CSV: %w", err))
				return
			}

			line, _ := cr.FieldPos(0)
			if !yield(model.RawRecord{
				Position: line,
				Fields:   project(fm, rowValues(columns, rec)),
				Text:     strings.Join(rec, string(delim)),
			}, nil) {
				return
			}
		}

		if rows == 0 {
			yield(model.RawRecord{}, &model.StructuralParseError{Format: model.FormatCSV, Reason: "no transaction rows after header"})
		}
	}
}

// headerColumns maps upper-cased column names to their index and checks that
// every required bound column is present.
func headerColumns(header []string, fm model.FieldMap) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}

	var missing []string
	for _, f := range model.RequiredFields {
		src := fm.Source(f)
		if src == "" {
			continue
		}
		if _, ok := columns[strings.ToUpper(src)]; !ok {
			missing = append(missing, src)
		}
	}
	if len(missing) > 0 {
		return nil, &model.StructuralParseError{
			Format: model.FormatCSV,
			Reason: fmt.Sprintf("header is missing columns %s", strings.Join(missing, ", ")),
		}
	}
	return columns, nil
}

func rowValues(columns map[string]int, row []string) map[string]string {
	values := make(map[string]string, len(columns))
	for name, i := range columns {
		if i < len(row) {
			values[name] = row[i]
		}
	}
	return values
}
