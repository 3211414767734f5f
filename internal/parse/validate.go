package parse

import (
	"regexp"
	"time"
)

var dateFormatRe = regexp.MustCompile(`^(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])-\d{4}$`)

// ValidDate reports whether s is an MM-DD-YYYY string naming a real
// calendar date. The format check alone admits impossible days like
// 02-30-2024, so the string is also round-tripped through time.Parse.
func ValidDate(s string) bool {
	if !dateFormatRe.MatchString(s) {
		return false
	}
	t, err := time.Parse("01-02-2006", s)
	if err != nil {
		return false
	}
	return t.Format("01-02-2006") == s
}

var nonDigitRe = regexp.MustCompile(`\D`)

// ValidPhone reports whether s is an acceptable phone number. The field is
// optional, so empty is valid. Otherwise the digits alone must number at
// least six.
func ValidPhone(s string) bool {
	if s == "" {
		return true
	}
	digits := nonDigitRe.ReplaceAllString(s, "")
	return len(digits) >= 6
}
