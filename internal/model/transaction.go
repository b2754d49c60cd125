package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxKind tells whether money left (DEBIT) or entered (CREDIT) the account.
type TxKind string

const (
	KindDebit  TxKind = "DEBIT"
	KindCredit TxKind = "CREDIT"
)

// KindForAmount derives the kind from the amount sign. Zero counts as credit.
func KindForAmount(amount decimal.Decimal) TxKind {
	if amount.IsNegative() {
		return KindDebit
	}
	return KindCredit
}

// RawRecord is one transaction block of a parsed statement, projected onto
// canonical field names. Values are left as the source wrote them.
type RawRecord struct {
	Position int                       // 1-based block or row number in the file
	Fields   map[CanonicalField]string // canonical field -> raw value
	Text     string                    // original block text, kept for inspection
}

// Get returns the raw value for f, or "".
func (r RawRecord) Get(f CanonicalField) string {
	return r.Fields[f]
}

// NormalizedTransaction is a typed statement line. Amount is negative for
// debits and its sign always agrees with Kind.
type NormalizedTransaction struct {
	Position       int             `json:"position"`
	ExternalID     string          `json:"external_id,omitempty"`
	PostedDate     time.Time       `json:"posted_date"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           TxKind          `json:"kind"`
	DocumentNumber string          `json:"document_number,omitempty"`
	Description    string          `json:"description"`
}
