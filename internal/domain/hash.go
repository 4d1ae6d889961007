package domain

import "strings"

// DefaultHashPrefixLength is the number of leading characters of extracted
// text used for the derived hash.
const DefaultHashPrefixLength = 100

var hashStripper = strings.NewReplacer(" ", "", "\n", "", "\r", "")

// DerivedHash fingerprints extracted document text: the first limit
// characters with spaces and line breaks removed, lowercased.
func DerivedHash(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultHashPrefixLength
	}

	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}

	return strings.ToLower(hashStripper.Replace(string(runes)))
}
