package parser

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "missing scheme", input: "shop.test/comics/asterix-1", expected: "https://shop.test/comics/asterix-1"},
		{name: "surrounding whitespace", input: "  https://shop.test/a  ", expected: "https://shop.test/a"},
		{name: "upper-case scheme and host", input: "HTTPS://Shop.TEST/Comics/A", expected: "https://shop.test/comics/a"},
		{name: "empty path gets slash", input: "https://shop.test", expected: "https://shop.test/"},
		{name: "http kept", input: "http://shop.test/a", expected: "http://shop.test/a"},
		{name: "unparseable falls back", input: "Not A Url", expected: "https://not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.input); got != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"shop.test/comics/asterix-1",
		"HTTPS://Shop.TEST/Comics/A?Page=2#Top",
		"https://shop.test/%C3%A4rger",
		"  http://shop.test  ",
		"Not A Url",
		"",
		"https:///only-path",
		"12345",
	}

	for _, in := range inputs {
		once := NormalizeURL(in)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestValidURL(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "https://shop.test/a", want: true},
		{input: "shop.test/a", want: true},
		{input: "", want: false},
		{input: "   ", want: false},
		{input: "https://bad host/a", want: false},
		{input: "https://", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidURL(tt.input); got != tt.want {
				t.Fatalf("ValidURL(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDisplayNameFromURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "https://shop.test/comics/batman-1-variant-b", expected: "Batman 1 Variant B"},
		{input: "https://shop.test/comics/spirou.html", expected: "Spirou"},
		{input: "https://shop.test/", expected: NameUnavailable},
		{input: "", expected: NameUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := DisplayNameFromURL(tt.input); got != tt.expected {
				t.Errorf("DisplayNameFromURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
