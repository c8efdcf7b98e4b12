// Package staleness decides whether a stored record can be served without
// scheduling a refresh.
package staleness

import (
	"math"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
)

// Unknown is the age of a record that was never stamped.
const Unknown = time.Duration(math.MaxInt64)

// Policy holds the two TTLs of the refresh rules.
type Policy struct {
	// HardTTL forces a refresh regardless of completeness.
	HardTTL time.Duration
	// SoftTTL forces a refresh of records that are otherwise complete.
	SoftTTL time.Duration
}

// DefaultPolicy returns the 24h/12h policy.
func DefaultPolicy() Policy {
	return Policy{
		HardTTL: 24 * time.Hour,
		SoftTTL: 12 * time.Hour,
	}
}

// Age returns how long ago rec was last updated, or Unknown.
func Age(rec *models.Record, now time.Time) time.Duration {
	if rec == nil || rec.LastUpdated == nil {
		return Unknown
	}
	age := now.Sub(*rec.LastUpdated)
	if age < 0 {
		return 0
	}
	return age
}

// NeedsRefresh applies the rules in order, first match wins:
// older than HardTTL, unusable price, unusable author, older than SoftTTL.
func (p Policy) NeedsRefresh(rec *models.Record, age time.Duration) bool {
	if rec == nil || age == Unknown {
		return true
	}
	if age > p.HardTTL {
		return true
	}
	if !parser.HasUsablePrice(rec.Price) {
		return true
	}
	if !parser.HasUsableAuthor(rec.Author) {
		return true
	}
	return age > p.SoftTTL
}
