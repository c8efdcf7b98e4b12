// Package ordering computes the display order of an enriched wishlist from
// dependency edges, manual priorities and a user-selected sort field.
package ordering

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/parser"
)

// MissingPriority ranks items without a manual priority behind every
// prioritized one.
const MissingPriority = 999

// ErrUnknownField is returned by ParseField for unsupported sort fields.
var ErrUnknownField = errors.New("unknown sort field")

// Field selects the comparison applied after dependencies and priorities.
type Field string

const (
	FieldNone          Field = ""
	FieldName          Field = "name"
	FieldAuthor        Field = "author"
	FieldPrice         Field = "price"
	FieldPageCount     Field = "pageCount"
	FieldPriority      Field = "priority"
	FieldHasNote       Field = "hasNote"
	FieldHasDependency Field = "hasDependency"
)

// Direction of the sort field comparison.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseField validates a sort field name. The empty string means no field.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldNone, FieldName, FieldAuthor, FieldPrice, FieldPageCount,
		FieldPriority, FieldHasNote, FieldHasDependency:
		return f, nil
	}
	return FieldNone, fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// ParseDirection maps "desc" (any case) to Desc and everything else to Asc.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

// Sort describes the user-selected sort. Notes feeds FieldHasNote.
type Sort struct {
	Field     Field
	Direction Direction
	Notes     map[string]string
}

// Order returns items in display order. Items are keyed by Link in the
// priority, dependency and note maps. The input slice is not modified.
//
// Every item is placed by its dependency path, root first. Items in
// different trees are ordered by root priority, then root key; the sort field
// never applies across trees. Within one tree an ancestor sorts first, and
// other items compare their branch heads below the deepest common ancestor by
// manual priority, then the sort field, then key. Cyclic edges are truncated
// at the first repeated key.
func Order(items []models.EnrichedItem, priorities map[string]int, deps map[string]string, s Sort) []models.EnrichedItem {
	o, paths := newOrderer(items, priorities, deps, s)
	out := make([]models.EnrichedItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return o.comparePaths(paths[out[i].Link], paths[out[j].Link]) < 0
	})
	return out
}

// Chain follows dependency edges from key towards its root and returns the
// keys visited, starting with key itself. A key already on the chain stops
// the walk.
func Chain(key string, deps map[string]string) []string {
	chain := []string{key}
	visited := map[string]bool{key: true}
	for cur := key; ; {
		parent, ok := deps[cur]
		if !ok || parent == "" || visited[parent] {
			return chain
		}
		visited[parent] = true
		chain = append(chain, parent)
		cur = parent
	}
}

// Path is Chain reversed: root first, key last.
func Path(key string, deps map[string]string) []string {
	chain := Chain(key, deps)
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func newOrderer(items []models.EnrichedItem, priorities map[string]int, deps map[string]string, s Sort) (*orderer, map[string][]string) {
	o := &orderer{
		priorities: priorities,
		deps:       deps,
		sort:       s,
		items:      make(map[string]models.EnrichedItem, len(items)),
	}
	paths := make(map[string][]string, len(items))
	for _, item := range items {
		if _, ok := o.items[item.Link]; ok {
			continue
		}
		o.items[item.Link] = item
		paths[item.Link] = Path(item.Link, deps)
	}
	return o, paths
}

type orderer struct {
	priorities map[string]int
	deps       map[string]string
	sort       Sort
	items      map[string]models.EnrichedItem
}

func (o *orderer) comparePaths(a, b []string) int {
	if a[0] != b[0] {
		if c := o.priority(a[0]) - o.priority(b[0]); c != 0 {
			return c
		}
		return strings.Compare(a[0], b[0])
	}
	for i := 1; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		return o.compareKeys(a[i], b[i])
	}
	return len(a) - len(b)
}

func (o *orderer) compareKeys(a, b string) int {
	if c := o.priority(a) - o.priority(b); c != 0 {
		return c
	}
	if c := o.compareField(a, b); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func (o *orderer) priority(key string) int {
	if p, ok := o.priorities[key]; ok && p > 0 {
		return p
	}
	return MissingPriority
}

func (o *orderer) item(key string) models.EnrichedItem {
	if item, ok := o.items[key]; ok {
		return item
	}
	return models.EnrichedItem{Link: key}
}

func (o *orderer) compareField(a, b string) int {
	var c int
	switch o.sort.Field {
	case FieldName:
		c = compareText(o.item(a).DisplayName, o.item(b).DisplayName)
	case FieldAuthor:
		c = compareText(o.item(a).Author, o.item(b).Author)
	case FieldPrice:
		return compareNumeric(o.item(a).Price, o.item(b).Price, o.sort.Direction)
	case FieldPageCount:
		return compareNumeric(o.item(a).PageCount, o.item(b).PageCount, o.sort.Direction)
	case FieldHasNote:
		c = flag(o.sort.Notes[a] != "") - flag(o.sort.Notes[b] != "")
	case FieldHasDependency:
		c = flag(o.deps[a] != "") - flag(o.deps[b] != "")
	default:
		// FieldPriority is already decided by compareKeys, always ascending.
		return 0
	}
	if o.sort.Direction == Desc {
		return -c
	}
	return c
}

func compareText(a, b string) int {
	return strings.Compare(strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b)))
}

// compareNumeric sorts unparseable values last regardless of direction.
func compareNumeric(a, b string, dir Direction) int {
	va, okA := parser.NumericValue(a)
	vb, okB := parser.NumericValue(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	}
	c := 0
	switch {
	case va < vb:
		c = -1
	case va > vb:
		c = 1
	}
	if dir == Desc {
		return -c
	}
	return c
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
