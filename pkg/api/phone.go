package api

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned for numbers that are not 10 to 15 digits
var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone strips spaces, dashes, parentheses and a leading "+", and
// requires 10 to 15 digits. "+57 300 123 4567" becomes "573001234567", the
// form WhatsApp uses as the sender ID.
func NormalizePhone(phone string) (string, error) {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	normalized = strings.TrimPrefix(normalized, "+")

	if len(normalized) < 10 || len(normalized) > 15 {
		return "", ErrInvalidPhone
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return normalized, nil
}
