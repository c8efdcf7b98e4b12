package parser

import (
	"testing"

	"github.com/aluiziolira/go-wishlist-mirror/models"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *models.Record
		wantErr bool
	}{
		{
			name:    "valid record",
			record:  &models.Record{Key: "https://shop.test/a", Price: "12,99 €", Author: "Goscinny"},
			wantErr: false,
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: true,
		},
		{
			name:    "missing key",
			record:  &models.Record{Price: "12,99 €", Author: "Goscinny"},
			wantErr: true,
		},
		{
			name:    "sentinel price",
			record:  &models.Record{Key: "https://shop.test/a", Price: PriceUnavailable, Author: "Goscinny"},
			wantErr: true,
		},
		{
			name:    "legacy sentinel author",
			record:  &models.Record{Key: "https://shop.test/a", Price: "3,00 €", Author: "Author information not available"},
			wantErr: true,
		},
		{
			name:    "blank author",
			record:  &models.Record{Key: "https://shop.test/a", Price: "3,00 €", Author: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   float64
		wantOK bool
	}{
		{name: "euro with comma", input: "12,99 €", want: 12.99, wantOK: true},
		{name: "dot decimal", input: "$10.50", want: 10.50, wantOK: true},
		{name: "thousands dot and decimal comma", input: "1.234,56 €", want: 1234.56, wantOK: true},
		{name: "thousands comma and decimal dot", input: "1,234.56", want: 1234.56, wantOK: true},
		{name: "page count", input: "240 Seiten", want: 240, wantOK: true},
		{name: "sentinel", input: PriceUnavailable, wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "unknown", input: "Unknown", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericValue(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("NumericValue(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("NumericValue(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMapPayloadAliasPriority(t *testing.T) {
	payload := map[string]any{
		"result": map[string]any{
			"Autor":        "Morris",
			"author":       "ignored",
			"price":        "9,95 €",
			"Seitenzahl":   float64(48),
			"Erscheint am": "01.02.2024",
			"Titel":        "Lucky Luke 101",
			"ISBN":         "978-3-7704-0000-0",
		},
	}

	rec := MapPayload("https://shop.test/lucky-luke-101", payload)

	if rec.Key != "https://shop.test/lucky-luke-101" {
		t.Fatalf("key = %q", rec.Key)
	}
	if rec.Author != "Morris" {
		t.Fatalf("author = %q, want native alias to win", rec.Author)
	}
	if rec.Price != "9,95 €" {
		t.Fatalf("price = %q", rec.Price)
	}
	if rec.PageCount != "48" {
		t.Fatalf("page count = %q, want 48", rec.PageCount)
	}
	if rec.ReleaseDate != "01.02.2024" {
		t.Fatalf("release = %q", rec.ReleaseDate)
	}
	if rec.DisplayName != "Lucky Luke 101" {
		t.Fatalf("display name = %q", rec.DisplayName)
	}
	if rec.Illustrator != "Unknown artist" {
		t.Fatalf("illustrator default = %q", rec.Illustrator)
	}
	if rec.Kind != "Comic" {
		t.Fatalf("kind default = %q", rec.Kind)
	}
}

func TestMapPayloadNameFromEnvelope(t *testing.T) {
	payload := map[string]any{
		"name":   "Asterix 1",
		"result": map[string]any{"price": "6,50 €", "author": "Goscinny"},
	}
	rec := MapPayload("k", payload)
	if rec.DisplayName != "Asterix 1" {
		t.Fatalf("display name = %q, want envelope name", rec.DisplayName)
	}
}

func TestHasOriginData(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{name: "price only", payload: map[string]any{"price": "5 €"}, want: true},
		{name: "sentinel price only", payload: map[string]any{"price": PriceUnavailable}, want: false},
		{name: "german author", payload: map[string]any{"result": map[string]any{"Autor": "Uderzo"}}, want: true},
		{name: "title", payload: map[string]any{"title": "Spirou"}, want: true},
		{name: "placeholder title", payload: map[string]any{"title": "Unknown Title", "price": PriceUnavailable}, want: false},
		{name: "empty", payload: map[string]any{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasOriginData(tt.payload); got != tt.want {
				t.Fatalf("HasOriginData() = %v, want %v", got, tt.want)
			}
		})
	}
}
