// Package results exports classification results and rejected records as
// CSV for review.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cleared-dev/concilia/internal/model"
)

// Header is the CSV header for a results file.
const Header = "position,posted_date,external_id,document_number,description,amount,kind,status,matched_rule_id,target_account_id,narrative,stale_account"

// RejectedHeader is the CSV header for a rejected-records file.
const RejectedHeader = "position,reason,detail,raw"

const (
	numFields    = 12
	dateFormat   = "2006-01-02"
	colPosition  = 0
	colDate      = 1
	colExtID     = 2
	colDocument  = 3
	colDesc      = 4
	colAmount    = 5
	colKind      = 6
	colStatus    = 7
	colRuleID    = 8
	colTargetID  = 9
	colNarrative = 10
	colStale     = 11
)

// WriteResults writes results with a header row.
func WriteResults(w io.Writer, results []model.ClassificationResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range results {
		if err := cw.Write(MarshalResult(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalResult converts a result to a CSV row.
func MarshalResult(r model.ClassificationResult) []string {
	t := r.Transaction
	row := make([]string, numFields)
	row[colPosition] = strconv.Itoa(t.Position)
	row[colDate] = t.PostedDate.Format(dateFormat)
	row[colExtID] = t.ExternalID
	row[colDocument] = t.DocumentNumber
	row[colDesc] = t.Description
	row[colAmount] = t.Amount.StringFixed(2)
	row[colKind] = string(t.Kind)
	row[colStatus] = string(r.Status)
	if r.MatchedRuleID != nil {
		row[colRuleID] = strconv.Itoa(*r.MatchedRuleID)
	}
	if r.TargetAccountID != nil {
		row[colTargetID] = strconv.Itoa(*r.TargetAccountID)
	}
	row[colNarrative] = r.Narrative
	if r.StaleAccountReference {
		row[colStale] = "true"
	}
	return row
}

// WriteRejected writes rejected records, raw text included, with a header.
func WriteRejected(w io.Writer, rejected []model.RecordRejected) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(strings.Split(RejectedHeader, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range rejected {
		row := []string{strconv.Itoa(r.Position), string(r.Reason), r.Detail, rawText(r.Raw)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// rawText prefers the original block text and falls back to the projected
// fields in canonical order.
func rawText(raw model.RawRecord) string {
	if raw.Text != "" {
		return raw.Text
	}
	var parts []string
	for _, f := range model.CanonicalFields {
		if v, ok := raw.Fields[f]; ok {
			parts = append(parts, string(f)+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}
