package export

import (
	"errors"
	"fmt"
	"sync"
)

// MultiWriter fans rows out to several writers, e.g. CSV and JSONL files
// produced side by side.
type MultiWriter struct {
	writers []Writer
	mu      sync.Mutex
}

// NewMultiWriter combines writers; nil entries are ignored.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write writes rows to every writer, stopping at the first failure.
func (mw *MultiWriter) Write(rows []Row) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for i, w := range mw.writers {
		if err := w.Write(rows); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
