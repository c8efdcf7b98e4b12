package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-wishlist-mirror/models"
)

// FieldAlias lists the origin field names that may carry one canonical field.
// Aliases are tried in order; the first non-empty value wins. Native-language
// labels come first, then English names. Default is used when none match.
type FieldAlias struct {
	Field   string
	Aliases []string
	Default string
	set     func(*models.Record, string)
}

// RecordAliases is the alias-resolution table for origin payloads.
var RecordAliases = []FieldAlias{
	{Field: "price", Aliases: []string{"Preis", "price"}, Default: PriceUnavailable,
		set: func(r *models.Record, v string) { r.Price = v }},
	{Field: "author", Aliases: []string{"Autor", "author"}, Default: AuthorUnknown,
		set: func(r *models.Record, v string) { r.Author = v }},
	{Field: "illustrator", Aliases: []string{"Zeichner", "drawer", "illustrator"}, Default: "Unknown artist",
		set: func(r *models.Record, v string) { r.Illustrator = v }},
	{Field: "releaseDate", Aliases: []string{"Erscheinungsdatum", "Erscheint am", "release", "releaseDate"}, Default: "Release date unavailable",
		set: func(r *models.Record, v string) { r.ReleaseDate = v }},
	{Field: "kind", Aliases: []string{"Produktart", "Typ", "type"}, Default: "Comic",
		set: func(r *models.Record, v string) { r.Kind = v }},
	{Field: "pageCount", Aliases: []string{"Seitenzahl", "Seitenanzahl", "Seiten", "pageAmount", "pageCount"}, Default: "Unknown",
		set: func(r *models.Record, v string) { r.PageCount = v }},
	{Field: "storyList", Aliases: []string{"Storys", "Stories", "storys"},
		set: func(r *models.Record, v string) { r.StoryList = v }},
	{Field: "binding", Aliases: []string{"Bindung", "Binding", "binding"},
		set: func(r *models.Record, v string) { r.Binding = v }},
	{Field: "isbn", Aliases: []string{"ISBN", "isbn"},
		set: func(r *models.Record, v string) { r.ISBN = v }},
	{Field: "shippableRegions", Aliases: []string{"Lieferbar in folgende Länder", "Lieferbar", "deliverableTo"}, Default: "Check website for availability",
		set: func(r *models.Record, v string) { r.ShippableRegions = v }},
	{Field: "shipsFrom", Aliases: []string{"Versand von", "deliveryFrom"},
		set: func(r *models.Record, v string) { r.ShipsFrom = v }},
	{Field: "articleNumber", Aliases: []string{"Artikel-Nr.", "Artikelnummer", "articleNumber"},
		set: func(r *models.Record, v string) { r.ArticleNumber = v }},
	{Field: "format", Aliases: []string{"Format", "format"},
		set: func(r *models.Record, v string) { r.Format = v }},
	{Field: "color", Aliases: []string{"Farbe/Schwarz-Weiß", "Farbe", "color"},
		set: func(r *models.Record, v string) { r.Color = v }},
	{Field: "displayName", Aliases: []string{"Titel", "name", "title"}, Default: NameUnavailable,
		set: func(r *models.Record, v string) { r.DisplayName = v }},
}

// Resolve returns the first non-empty aliased value in payload, or Default.
func (a FieldAlias) Resolve(payload map[string]any) string {
	if v, ok := lookup(payload, a.Aliases); ok {
		return v
	}
	return a.Default
}

func lookup(payload map[string]any, aliases []string) (string, bool) {
	for _, alias := range aliases {
		raw, ok := payload[alias]
		if !ok {
			continue
		}
		if v := scalarString(raw); v != "" {
			return v, true
		}
	}
	return "", false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool, int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// PayloadBody returns the record-bearing part of an origin response, which
// may be nested under "result".
func PayloadBody(payload map[string]any) map[string]any {
	if nested, ok := payload["result"].(map[string]any); ok {
		return nested
	}
	return payload
}

// PayloadError returns the origin's error message, if it reported one.
func PayloadError(payload map[string]any) string {
	return scalarString(payload["error"])
}

// HasOriginData reports whether a response carries anything worth keeping:
// a real price, a title or an author under any known alias.
func HasOriginData(payload map[string]any) bool {
	body := PayloadBody(payload)
	if price, ok := lookup(body, aliasesFor("price")); ok && HasUsablePrice(price) {
		return true
	}
	if title, ok := lookup(body, []string{"Titel", "title"}); ok && HasUsableName(title) {
		return true
	}
	_, ok := lookup(body, aliasesFor("author"))
	return ok
}

// MapPayload converts an origin response into a canonical record for key.
// Names may live either on the record body or on the envelope.
func MapPayload(key string, payload map[string]any) models.Record {
	body := PayloadBody(payload)
	rec := models.Record{Key: key}
	for _, alias := range RecordAliases {
		alias.set(&rec, alias.Resolve(body))
	}
	if !HasUsableName(rec.DisplayName) {
		if name, ok := lookup(payload, aliasesFor("displayName")); ok {
			rec.DisplayName = name
		}
	}
	return rec
}

func aliasesFor(field string) []string {
	for _, a := range RecordAliases {
		if a.Field == field {
			return a.Aliases
		}
	}
	return nil
}
