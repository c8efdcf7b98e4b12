// Package export writes ordered wishlists as CSV or JSON lines.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/models"
)

// Row is one exported item with its list annotations.
type Row struct {
	Position  int                 `json:"position"`
	Item      models.EnrichedItem `json:"item"`
	Priority  int                 `json:"priority,omitempty"`
	DependsOn string              `json:"dependsOn,omitempty"`
	Note      string              `json:"note,omitempty"`
}

// Writer receives rows in display order.
type Writer interface {
	Write(rows []Row) error
	Close() error
}

// Rows annotates ordered items with their priority, dependency and note.
func Rows(items []models.EnrichedItem, priorities map[string]int, deps, notes map[string]string) []Row {
	rows := make([]Row, len(items))
	for i, item := range items {
		rows[i] = Row{
			Position:  i + 1,
			Item:      item,
			Priority:  priorities[item.Link],
			DependsOn: deps[item.Link],
			Note:      notes[item.Link],
		}
	}
	return rows
}

var csvHeader = []string{
	"position", "link", "display_name", "price", "author", "illustrator",
	"release_date", "kind", "page_count", "isbn", "priority", "depends_on",
	"note", "from_cache", "is_fallback", "needs_update", "last_updated",
}

// CSVWriter writes rows to CSV.
type CSVWriter struct {
	closer io.Closer
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter writes the header row to w. If w is an io.Closer, Close
// closes it.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	closer, _ := w.(io.Closer)
	return &CSVWriter{closer: closer, writer: writer}, nil
}

// Write appends rows to the CSV output.
func (cw *CSVWriter) Write(rows []Row) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		item := row.Item
		priority := ""
		if row.Priority > 0 {
			priority = strconv.Itoa(row.Priority)
		}
		updated := ""
		if item.LastUpdated != nil {
			updated = item.LastUpdated.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.Itoa(row.Position),
			item.Link,
			item.DisplayName,
			item.Price,
			item.Author,
			item.Illustrator,
			item.ReleaseDate,
			item.Kind,
			item.PageCount,
			item.ISBN,
			priority,
			row.DependsOn,
			row.Note,
			strconv.FormatBool(item.FromCache),
			strconv.FormatBool(item.IsFallback),
			strconv.FormatBool(item.NeedsUpdate),
			updated,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer when it is closable.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if cw.closer != nil {
		return cw.closer.Close()
	}
	return nil
}

// JSONWriter writes newline-delimited JSON rows.
type JSONWriter struct {
	closer  io.Closer
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter wraps w. If w is an io.Closer, Close closes it.
func NewJSONWriter(w io.Writer) *JSONWriter {
	buffer := bufio.NewWriter(w)
	closer, _ := w.(io.Closer)
	return &JSONWriter{
		closer:  closer,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}
}

// Write appends rows in JSONL format.
func (jw *JSONWriter) Write(rows []Row) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying writer when it is closable.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if jw.closer != nil {
		return jw.closer.Close()
	}
	return nil
}

// CreateCSV creates filename (and its directory) and returns a CSV writer on it.
func CreateCSV(filename string) (*CSVWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}
	w, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// CreateJSON creates filename (and its directory) and returns a JSONL writer on it.
func CreateJSON(filename string) (*JSONWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}
	return NewJSONWriter(f), nil
}

func createFile(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return f, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
