// Package importlog keeps an append-only CSV audit trail of statement
// imports.
package importlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cleared-dev/concilia/internal/model"
)

// Entry is one imported statement.
type Entry struct {
	Timestamp      time.Time
	BatchID        string
	AccountID      string
	File           string
	Parsed         int
	Duplicates     int
	AutoClassified int
	Suggested      int
	Unmatched      int
	Rejected       int
}

// Header is the CSV header of the import log.
const Header = "timestamp,batch_id,account_id,file,parsed,duplicates,auto_classified,suggested,unmatched,rejected"

const (
	numFields    = 10
	colTimestamp = 0
	colBatchID   = 1
	colAccountID = 2
	colFile      = 3
	colParsed    = 4
	colDups      = 5
	colAuto      = 6
	colSuggested = 7
	colUnmatched = 8
	colRejected  = 9
)

// FromOutcome builds the log entry for an import of file.
func FromOutcome(o *model.ImportBatchOutcome, file string) Entry {
	return Entry{
		Timestamp:      o.StartedAt,
		BatchID:        o.BatchID,
		AccountID:      o.AccountID,
		File:           file,
		Parsed:         o.Parsed,
		Duplicates:     o.Duplicates,
		AutoClassified: o.AutoClassified,
		Suggested:      o.Suggested,
		Unmatched:      o.Unmatched,
		Rejected:       o.Rejected,
	}
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colBatchID] = e.BatchID
	row[colAccountID] = e.AccountID
	row[colFile] = e.File
	row[colParsed] = strconv.Itoa(e.Parsed)
	row[colDups] = strconv.Itoa(e.Duplicates)
	row[colAuto] = strconv.Itoa(e.AutoClassified)
	row[colSuggested] = strconv.Itoa(e.Suggested)
	row[colUnmatched] = strconv.Itoa(e.Unmatched)
	row[colRejected] = strconv.Itoa(e.Rejected)
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	e := Entry{
		Timestamp: ts,
		BatchID:   record[colBatchID],
		AccountID: record[colAccountID],
		File:      record[colFile],
	}
	counts := []struct {
		col int
		dst *int
	}{
		{colParsed, &e.Parsed},
		{colDups, &e.Duplicates},
		{colAuto, &e.AutoClassified},
		{colSuggested, &e.Suggested},
		{colUnmatched, &e.Unmatched},
		{colRejected, &e.Rejected},
	}
	for _, c := range counts {
		n, err := strconv.Atoi(record[c.col])
		if err != nil {
			return Entry{}, fmt.Errorf("parsing count %q: %w", record[c.col], err)
		}
		*c.dst = n
	}
	return e, nil
}

// Append writes entries to the log at path, creating the file, its
// directory and the header if needed.
func Append(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries of the log at path. A missing file has no
// entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading import log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
