package form

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation kinds understood by the built-in validators.
const (
	KindIdentification = "identification"
	KindFullName       = "full_name"
	KindEmail          = "email"
	KindPhone          = "phone"
	KindText           = "text"
)

// Validator reports whether a trimmed answer is acceptable.
type Validator func(input string) bool

var (
	digitsRegex = regexp.MustCompile(`^[0-9]+$`)
	emailRegex  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRegex  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

var kindAliases = map[string]string{
	"identification":        KindIdentification,
	"identification_number": KindIdentification,
	"number":                KindIdentification,
	"full_name":             KindFullName,
	"full-name":             KindFullName,
	"fullname":              KindFullName,
	"name":                  KindFullName,
	"email":                 KindEmail,
	"phone":                 KindPhone,
	"text":                  KindText,
	"free-text":             KindText,
	"free_text":             KindText,
	"":                      KindText,
}

// CanonicalKind maps configuration spellings onto a built-in kind.
// Unknown kinds are returned lower-cased and unchanged.
func CanonicalKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	if c, ok := kindAliases[k]; ok {
		return c
	}
	return k
}

func builtinValidators() map[string]Validator {
	return map[string]Validator{
		KindIdentification: IsIdentification,
		KindFullName:       IsFullName,
		KindEmail:          IsEmail,
		KindPhone:          IsPhone,
		KindText:           IsText,
	}
}

// IsIdentification accepts digits only.
func IsIdentification(s string) bool {
	return digitsRegex.MatchString(strings.TrimSpace(s))
}

// IsFullName accepts at least two whitespace-separated tokens of two or more characters each.
func IsFullName(s string) bool {
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) < 2 {
			return false
		}
	}
	return true
}

// IsEmail accepts local@domain.tld without whitespace.
func IsEmail(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}

// IsPhone accepts 7 to 15 digits with an optional leading plus.
func IsPhone(s string) bool {
	return phoneRegex.MatchString(strings.TrimSpace(s))
}

// IsText accepts any non-blank input.
func IsText(s string) bool {
	return strings.TrimSpace(s) != ""
}
