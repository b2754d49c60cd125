package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/concilia/internal/model"
)

var plainNumber = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// ParseAmount parses a statement amount written with the given decimal
// separator ("," or "."). An explicit sign (leading or trailing "-"/"+", or
// parentheses) wins. Without one, the sign comes from kindValue when it names
// a debit or credit, and the amount is a credit otherwise. The returned kind
// always agrees with the sign.
func ParseAmount(s, decimalSep, kindValue string) (decimal.Decimal, model.TxKind, error) {
	if decimalSep == "" {
		decimalSep = model.DefaultDecimalSeparator
	}
	orig := s

	s = strings.TrimFunc(s, isNoise)
	if s == "" {
		return decimal.Decimal{}, "", fmt.Errorf("amount is empty")
	}

	negative, explicit := false, false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		s = s[1 : len(s)-1]
		negative, explicit = true, true
	case strings.HasPrefix(s, "-"):
		s = s[1:]
		negative, explicit = true, true
	case strings.HasSuffix(s, "-"):
		s = s[:len(s)-1]
		negative, explicit = true, true
	case strings.HasPrefix(s, "+"):
		s = s[1:]
		explicit = true
	case strings.HasSuffix(s, "+"):
		s = s[:len(s)-1]
		explicit = true
	}

	// Currency after the sign, as in "-R$ 1.500,00".
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.TrimFunc(s, isNoise))

	digits, err := canonicalDigits(s, decimalSep)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parsing amount %q: %w", orig, err)
	}
	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parsing amount %q: %w", orig, err)
	}

	kind := model.KindCredit
	switch {
	case explicit && negative:
		kind = model.KindDebit
	case explicit:
	default:
		if k, ok := KindOf(kindValue); ok {
			kind = k
		}
	}
	if kind == model.KindDebit {
		amount = amount.Neg()
	}
	// A zero amount has no sign to agree with; it is a credit.
	if amount.IsZero() {
		kind = model.KindForAmount(amount)
	}
	return amount, kind, nil
}

func isNoise(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r)
}

// canonicalDigits rewrites an unsigned amount into "1234.56" form. Thousands
// separators must group digits by three.
func canonicalDigits(s, decimalSep string) (string, error) {
	thousands := "."
	if decimalSep == "." {
		thousands = ","
	}
	s = strings.ReplaceAll(s, "'", "")

	intPart, frac, hasFrac := strings.Cut(s, decimalSep)
	if hasFrac && strings.Contains(frac, decimalSep) {
		return "", fmt.Errorf("more than one decimal separator")
	}
	if strings.Contains(frac, thousands) {
		return "", fmt.Errorf("thousands separator after decimal separator")
	}
	if strings.Contains(intPart, thousands) {
		groups := strings.Split(intPart, thousands)
		for i, g := range groups {
			if (i == 0 && (len(g) == 0 || len(g) > 3)) || (i > 0 && len(g) != 3) {
				return "", fmt.Errorf("misplaced thousands separator")
			}
		}
		intPart = strings.Join(groups, "")
	}

	out := intPart
	if hasFrac {
		out += "." + frac
	}
	if !plainNumber.MatchString(out) {
		return "", fmt.Errorf("not a number")
	}
	return out, nil
}

var kindWords = map[string]model.TxKind{
	"D":       model.KindDebit,
	"DEBIT":   model.KindDebit,
	"DEBITO":  model.KindDebit,
	"DÉBITO":  model.KindDebit,
	"C":       model.KindCredit,
	"CREDIT":  model.KindCredit,
	"CREDITO": model.KindCredit,
	"CRÉDITO": model.KindCredit,
}

// KindOf interprets a statement's debit/credit indicator. Besides the plain
// words it understands OFX TRNTYPE values. Transfers and unknown values
// carry no direction.
func KindOf(v string) (model.TxKind, bool) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return "", false
	}
	if k, ok := kindWords[v]; ok {
		return k, true
	}

	tt, err := ofxgo.NewTrnType(v)
	if err != nil {
		return "", false
	}
	switch tt {
	case ofxgo.TrnTypeCredit, ofxgo.TrnTypeDep, ofxgo.TrnTypeDirectDep, ofxgo.TrnTypeInt, ofxgo.TrnTypeDiv:
		return model.KindCredit, true
	case ofxgo.TrnTypeDebit, ofxgo.TrnTypeDirectDebit, ofxgo.TrnTypeATM, ofxgo.TrnTypeCash,
		ofxgo.TrnTypeCheck, ofxgo.TrnTypeFee, ofxgo.TrnTypeSrvChg, ofxgo.TrnTypePOS,
		ofxgo.TrnTypePayment, ofxgo.TrnTypeRepeatPmt:
		return model.KindDebit, true
	}
	return "", false
}
