package model

import "strings"

// AccountKind is the kind of bank account a statement belongs to.
type AccountKind string

const (
	AccountKindChecking    AccountKind = "CHECKING"
	AccountKindSavings     AccountKind = "SAVINGS"
	AccountKindInvestment  AccountKind = "INVESTMENT"
	AccountKindApplication AccountKind = "APPLICATION"
)

// Valid reports whether k is one of the known account kinds.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindChecking, AccountKindSavings, AccountKindInvestment, AccountKindApplication:
		return true
	}
	return false
}

// CanonicalField is the bank-agnostic name of a transaction attribute.
type CanonicalField string

const (
	FieldPostedDate     CanonicalField = "posted_date"
	FieldAmount         CanonicalField = "amount"
	FieldExternalID     CanonicalField = "external_id"
	FieldDocumentNumber CanonicalField = "document_number"
	FieldDescription    CanonicalField = "description"
	FieldKind           CanonicalField = "kind"
)

// CanonicalFields lists every canonical field in a stable order.
var CanonicalFields = []CanonicalField{
	FieldPostedDate,
	FieldAmount,
	FieldExternalID,
	FieldDocumentNumber,
	FieldDescription,
	FieldKind,
}

// RequiredFields must be bound before an account can import statements.
var RequiredFields = []CanonicalField{
	FieldPostedDate,
	FieldAmount,
	FieldExternalID,
	FieldDescription,
}

// Statement formats understood by the importer.
const (
	FormatOFX = "ofx"
	FormatCSV = "csv"
	FormatXLS = "xls"
)

const (
	// DefaultLookbackDays is the dedup window used when a field map leaves it unset.
	DefaultLookbackDays = 90
	// DefaultDecimalSeparator is used when a field map leaves it unset.
	DefaultDecimalSeparator = "."
)

// FieldMap binds canonical fields to the source file's own field names and
// carries the locale settings needed to read its values.
type FieldMap struct {
	Format           string                    `yaml:"format,omitempty" json:"format,omitempty"`
	Fields           map[CanonicalField]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	DecimalSeparator string                    `yaml:"decimal_separator,omitempty" json:"decimal_separator,omitempty"`
	DateFormat       string                    `yaml:"date_format,omitempty" json:"date_format,omitempty"`
	Delimiter        string                    `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	LookbackDays     int                       `yaml:"lookback_days,omitempty" json:"lookback_days,omitempty"`
	IgnoreDuplicates bool                      `yaml:"ignore_duplicates" json:"ignore_duplicates"`
}

// Source returns the source field name bound to f, or "".
func (m FieldMap) Source(f CanonicalField) string {
	return strings.TrimSpace(m.Fields[f])
}

// Bound reports whether f has a source field.
func (m FieldMap) Bound(f CanonicalField) bool {
	return m.Source(f) != ""
}

// Clone returns a deep copy so callers can modify the result freely.
func (m FieldMap) Clone() FieldMap {
	out := m
	if m.Fields != nil {
		out.Fields = make(map[CanonicalField]string, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// BankAccount is a bank account whose statements can be imported.
type BankAccount struct {
	ID            string      `yaml:"id" json:"id"`
	Name          string      `yaml:"name" json:"name"`
	Agency        string      `yaml:"agency,omitempty" json:"agency,omitempty"`
	Number        string      `yaml:"number,omitempty" json:"number,omitempty"`
	Kind          AccountKind `yaml:"kind" json:"kind"`
	ImportEnabled bool        `yaml:"import_enabled" json:"import_enabled"`
	Template      string      `yaml:"template,omitempty" json:"template,omitempty"`
	FieldMap      FieldMap    `yaml:"field_map,omitempty" json:"field_map,omitempty"`
}
