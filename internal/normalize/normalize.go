// Package normalize turns raw statement records into typed transactions
// using the locale settings of a field map.
package normalize

import (
	"strings"

	"github.com/cleared-dev/concilia/internal/model"
)

// Normalize converts one raw record. Failures are returned as
// *model.RecordRejected carrying the raw record.
func Normalize(raw model.RawRecord, fm model.FieldMap) (model.NormalizedTransaction, error) {
	reject := func(reason model.RejectReason, detail string) (model.NormalizedTransaction, error) {
		return model.NormalizedTransaction{}, &model.RecordRejected{
			Position: raw.Position,
			Reason:   reason,
			Detail:   detail,
			Raw:      raw,
		}
	}

	posted, err := ParseDate(raw.Get(model.FieldPostedDate), fm.DateFormat)
	if err != nil {
		return reject(model.RejectUnparseableDate, err.Error())
	}

	amount, kind, err := ParseAmount(raw.Get(model.FieldAmount), fm.DecimalSeparator, raw.Get(model.FieldKind))
	if err != nil {
		return reject(model.RejectUnparseableAmount, err.Error())
	}

	extID := strings.TrimSpace(raw.Get(model.FieldExternalID))
	if extID == "" && fm.IgnoreDuplicates {
		return reject(model.RejectMissingExternalID, "external id is required when duplicates are ignored")
	}

	return model.NormalizedTransaction{
		Position:       raw.Position,
		ExternalID:     extID,
		PostedDate:     posted,
		Amount:         amount,
		Kind:           kind,
		DocumentNumber: strings.TrimSpace(raw.Get(model.FieldDocumentNumber)),
		Description:    CleanDescription(raw.Get(model.FieldDescription)),
	}, nil
}

// CleanDescription trims s and collapses inner runs of whitespace.
func CleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
