// Package fieldmap resolves the mapping from canonical transaction fields to a
// bank's own statement field names.
package fieldmap

import (
	"fmt"
	"sort"

	"github.com/cleared-dev/concilia/internal/model"
)

// Templates holds named, immutable field-map presets.
type Templates map[string]model.FieldMap

// Get returns a copy of the named template.
func (t Templates) Get(name string) (model.FieldMap, bool) {
	fm, ok := t[name]
	if !ok {
		return model.FieldMap{}, false
	}
	return fm.Clone(), true
}

// Names returns the template names in sorted order.
func (t Templates) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a new set with extra layered over t. Entries in extra
// replace same-named entries in t.
func (t Templates) Merge(extra Templates) Templates {
	out := make(Templates, len(t)+len(extra))
	for name, fm := range t {
		out[name] = fm.Clone()
	}
	for name, fm := range extra {
		out[name] = fm.Clone()
	}
	return out
}

// Builtin returns the preset templates shipped with the binary.
func Builtin() Templates {
	return Templates{
		"ofx": {
			Format: model.FormatOFX,
			Fields: map[model.CanonicalField]string{
				model.FieldPostedDate:     "DTPOSTED",
				model.FieldAmount:         "TRNAMT",
				model.FieldExternalID:     "FITID",
				model.FieldDocumentNumber: "CHECKNUM",
				model.FieldDescription:    "MEMO",
				model.FieldKind:           "TRNTYPE",
			},
			DecimalSeparator: ".",
			DateFormat:       DateFormatOFX,
			LookbackDays:     model.DefaultLookbackDays,
			IgnoreDuplicates: true,
		},
		"ofx-name": {
			Format: model.FormatOFX,
			Fields: map[model.CanonicalField]string{
				model.FieldPostedDate:     "DTPOSTED",
				model.FieldAmount:         "TRNAMT",
				model.FieldExternalID:     "FITID",
				model.FieldDocumentNumber: "CHECKNUM",
				model.FieldDescription:    "NAME",
				model.FieldKind:           "TRNTYPE",
			},
			DecimalSeparator: ".",
			DateFormat:       DateFormatOFX,
			LookbackDays:     model.DefaultLookbackDays,
			IgnoreDuplicates: true,
		},
		"csv-br": {
			Format: model.FormatCSV,
			Fields: map[model.CanonicalField]string{
				model.FieldPostedDate:     "data",
				model.FieldAmount:         "valor",
				model.FieldExternalID:     "id",
				model.FieldDocumentNumber: "documento",
				model.FieldDescription:    "historico",
			},
			DecimalSeparator: ",",
			DateFormat:       "dd/MM/yyyy",
			Delimiter:        ";",
			LookbackDays:     model.DefaultLookbackDays,
			IgnoreDuplicates: true,
		},
	}
}

// DateFormatOFX selects the OFX datetime grammar.
const DateFormatOFX = "ofx"

// ApplyTemplate replaces the account's field map with the template, whole.
// Nothing of the previous map survives.
func ApplyTemplate(acct model.BankAccount, name string, tpl model.FieldMap) model.BankAccount {
	acct.FieldMap = tpl.Clone()
	acct.Template = name
	return acct
}

// Resolve returns the account's effective field map. An account with no own
// bindings uses its named template. Defaults are filled in and the result is
// validated.
func Resolve(acct model.BankAccount, tpls Templates) (model.FieldMap, error) {
	if !acct.ImportEnabled {
		return model.FieldMap{}, &model.ConfigurationError{AccountID: acct.ID, Reason: "import is not enabled"}
	}

	fm := acct.FieldMap.Clone()
	if len(fm.Fields) == 0 && acct.Template != "" {
		tpl, ok := tpls.Get(acct.Template)
		if !ok {
			return model.FieldMap{}, &model.ConfigurationError{
				AccountID: acct.ID,
				Reason:    fmt.Sprintf("unknown template %q", acct.Template),
			}
		}
		fm = tpl
	}

	fm = withDefaults(fm)
	if err := Validate(acct.ID, fm); err != nil {
		return model.FieldMap{}, err
	}
	return fm, nil
}

// ResolveTemplate resolves a named template directly, for imports that do not
// go through a stored account.
func ResolveTemplate(name string, tpls Templates) (model.FieldMap, error) {
	tpl, ok := tpls.Get(name)
	if !ok {
		return model.FieldMap{}, &model.ConfigurationError{Reason: fmt.Sprintf("unknown template %q", name)}
	}
	fm := withDefaults(tpl)
	if err := Validate("", fm); err != nil {
		return model.FieldMap{}, err
	}
	return fm, nil
}

// Validate checks that a field map has every required binding and a usable
// locale. All missing bindings are reported together.
func Validate(accountID string, fm model.FieldMap) error {
	var missing []model.CanonicalField
	for _, f := range model.RequiredFields {
		if !fm.Bound(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &model.ConfigurationError{AccountID: accountID, Missing: missing}
	}

	switch fm.Format {
	case model.FormatOFX, model.FormatCSV, model.FormatXLS:
	default:
		return &model.ConfigurationError{AccountID: accountID, Reason: fmt.Sprintf("unknown format %q", fm.Format)}
	}
	if fm.DecimalSeparator != "," && fm.DecimalSeparator != "." {
		return &model.ConfigurationError{AccountID: accountID, Reason: fmt.Sprintf("decimal separator must be \",\" or \".\", got %q", fm.DecimalSeparator)}
	}
	if fm.DateFormat == "" {
		return &model.ConfigurationError{AccountID: accountID, Reason: "date format is required"}
	}
	if fm.LookbackDays < 0 {
		return &model.ConfigurationError{AccountID: accountID, Reason: "lookback days cannot be negative"}
	}
	return nil
}

func withDefaults(fm model.FieldMap) model.FieldMap {
	if fm.Format == "" {
		fm.Format = model.FormatOFX
	}
	if fm.DecimalSeparator == "" {
		fm.DecimalSeparator = model.DefaultDecimalSeparator
	}
	if fm.DateFormat == "" && fm.Format == model.FormatOFX {
		fm.DateFormat = DateFormatOFX
	}
	if fm.LookbackDays == 0 {
		fm.LookbackDays = model.DefaultLookbackDays
	}
	if fm.Delimiter == "" && fm.Format == model.FormatCSV {
		fm.Delimiter = ","
	}
	return fm
}
