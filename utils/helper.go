package utils

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/ttacon/libphonenumber"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func NewTrue() *bool {
	b := true
	return &b
}

// StringPtr returns nil for blank strings so optional columns stay NULL.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func DereferencePtr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeText folds case, strips diacritics and collapses whitespace,
// so "Casa di Giulietta " and "casa di giuliétta" compare equal.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// DefaultPhoneRegion is used when a number has no international prefix.
func DefaultPhoneRegion() string {
	if v := strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "IT"
}

// NormalizePhoneNumber returns the E.164 form of phoneNumber.
func NormalizePhoneNumber(phoneNumber, region string) (string, error) {
	p, err := libphonenumber.Parse(strings.TrimSpace(phoneNumber), region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
