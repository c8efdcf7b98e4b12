// Package store persists canonical item records, the display-name alias map
// and per-list preferences.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
)

var (
	// ErrIncompleteRecord is returned by Upsert for records without a usable
	// price and author. Such records never replace stored data.
	ErrIncompleteRecord = errors.New("store: record lacks usable price or author")
	// ErrInvalidPriority is returned for priorities outside [MinPriority, MaxPriority].
	ErrInvalidPriority = errors.New("store: priority out of range")
	// ErrSelfDependency is returned when an item is made to depend on itself.
	ErrSelfDependency = errors.New("store: item cannot depend on itself")
)

// Priority bounds; 1 is the most important.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Store is the durable metadata store.
type Store interface {
	// GetMany returns the records found for keys in one bulk lookup.
	// Missing keys are absent from the result.
	GetMany(ctx context.Context, keys []string) (map[string]models.Record, error)
	// Upsert writes rec under rec.Key, replacing every field.
	Upsert(ctx context.Context, rec models.Record) error
	// RecordName maps a display name to the key it was last seen on.
	RecordName(ctx context.Context, name, key string) error
	// LookupName resolves a display name recorded by RecordName.
	LookupName(ctx context.Context, name string) (string, bool, error)
}

// Preferences holds the user-maintained per-list data consumed by ordering.
// urlEnding identifies the list.
type Preferences interface {
	Priorities(ctx context.Context, urlEnding string) (map[string]int, error)
	SetPriority(ctx context.Context, urlEnding, url string, priority int) error
	Dependencies(ctx context.Context, urlEnding string) (map[string]string, error)
	// SetDependency stores the single outgoing edge of url. An empty
	// dependencyURL removes it.
	SetDependency(ctx context.Context, urlEnding, url, dependencyURL string) error
	Notes(ctx context.Context, urlEnding string) (map[string]string, error)
	// SetNote stores the note of url. Empty text removes it.
	SetNote(ctx context.Context, urlEnding, url, text string) error
}

func checkRecord(rec models.Record) error {
	if err := parser.ValidateRecord(&rec); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteRecord, err)
	}
	return nil
}

// storedTime is the timestamp precision both backends keep: UTC with
// millisecond resolution, matching the BIGINT unix-millis column.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// withOwnTimestamp returns rec with a private, normalized copy of
// LastUpdated so later writes through the caller's pointer are not seen.
func withOwnTimestamp(rec models.Record) models.Record {
	if rec.LastUpdated != nil {
		ts := storedTime(*rec.LastUpdated)
		rec.LastUpdated = &ts
	}
	return rec
}

func checkPriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidPriority, priority, MinPriority, MaxPriority)
	}
	return nil
}

func checkDependency(url, dependencyURL string) error {
	if url == "" {
		return fmt.Errorf("store: dependency missing item url")
	}
	if dependencyURL != "" && dependencyURL == url {
		return ErrSelfDependency
	}
	return nil
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
