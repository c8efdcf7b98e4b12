package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-wishlist-mirror/models"
)

// Sentinel values written in place of missing origin data.
const (
	PriceUnavailable = "Price unavailable"
	AuthorUnknown    = "Unknown author"
	NameUnavailable  = "Item information unavailable"
)

// Older rows may still carry the placeholders of earlier releases.
var (
	unusablePrices  = []string{PriceUnavailable, "Price information not available"}
	unusableAuthors = []string{AuthorUnknown, "Author information not available"}
)

// HasUsablePrice reports whether price is present and not a placeholder.
func HasUsablePrice(price string) bool {
	return usable(price, unusablePrices)
}

// HasUsableAuthor reports whether author is present and not a placeholder.
func HasUsableAuthor(author string) bool {
	return usable(author, unusableAuthors)
}

// HasUsableName reports whether name is a real title rather than a placeholder.
func HasUsableName(name string) bool {
	return usable(name, []string{NameUnavailable, "Unknown Title", "Unknown Comic"})
}

func usable(value string, sentinels []string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, s := range sentinels {
		if strings.EqualFold(value, s) {
			return false
		}
	}
	return true
}

// ValidateRecord ensures a record carries the fields required for storage.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("record missing key")
	}
	if !HasUsablePrice(r.Price) {
		return fmt.Errorf("record missing price for %s", r.Key)
	}
	if !HasUsableAuthor(r.Author) {
		return fmt.Errorf("record missing author for %s", r.Key)
	}
	return nil
}

// NumericValue extracts a number from display text such as "12,99 €",
// "1.234,50" or "240 Seiten". Both comma and dot are accepted as decimal
// separator; when both appear the last one is the decimal separator.
func NumericValue(text string) (float64, bool) {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".,")
	if cleaned == "" || cleaned == "-" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}
