// Package validation checks free-text place queries before they reach the
// geocoding upstream.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

// Default bounds for place queries, in runes.
const (
	MinPlaceQueryLen = 2
	MaxPlaceQueryLen = 100
)

var (
	ErrPlaceQueryEmpty        = errors.New("place query is empty")
	ErrPlaceQueryTooShort     = errors.New("place query too short")
	ErrPlaceQueryTooLong      = errors.New("place query too long")
	ErrPlaceQueryInvalidChars = errors.New("place query contains control characters")
)

// ValidatePlaceQuery trims input and enforces the rune-length bounds. Place names
// and postal codes come in any script with punctuation ("100-0001", "St. John's",
// "横浜"), so only control characters are rejected. Returns the trimmed query.
func ValidatePlaceQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	if n == 0 {
		return "", ErrPlaceQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrPlaceQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrPlaceQueryTooLong
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", ErrPlaceQueryInvalidChars
		}
	}
	return s, nil
}
