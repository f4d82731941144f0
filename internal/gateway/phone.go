package gateway

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// International number, country code included, 8 to 15 digits.
var phonePattern = regexp.MustCompile(`^[1-9]\d{7,14}$`)

// NormalizePhone strips every non-digit and validates what is left.
// "+55 (11) 99999-9999" becomes "5511999999999".
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return "", &ValidationError{Field: "phone", Reason: "phone number is required"}
	}
	if !phonePattern.MatchString(digits) {
		return "", &ValidationError{Field: "phone", Reason: "must be an international number of 8 to 15 digits"}
	}
	return digits, nil
}

// ValidateBody checks that body has content and at most maxLen characters.
func ValidateBody(body string, maxLen int) error {
	if strings.TrimFunc(body, unicode.IsSpace) == "" {
		return &ValidationError{Field: "message", Reason: "message is required"}
	}
	if maxLen > 0 && utf8.RuneCountInString(body) > maxLen {
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("message exceeds %d characters", maxLen)}
	}
	return nil
}
