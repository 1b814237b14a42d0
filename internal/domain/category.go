package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Category is a platform-specific classification bucket.
type Category int

// CategoryTable maps category ids to labels and back. It is built once when a
// platform registers and never mutated afterwards.
type CategoryTable struct {
	byID    map[Category]string
	byLabel map[string]Category
}

// NewCategoryTable builds a table from id -> label pairs. Ids and labels must be unique.
func NewCategoryTable(entries map[int]string) (CategoryTable, error) {
	t := CategoryTable{
		byID:    make(map[Category]string, len(entries)),
		byLabel: make(map[string]Category, len(entries)),
	}
	for id, label := range entries {
		label = strings.TrimSpace(label)
		if label == "" {
			return CategoryTable{}, fmt.Errorf("category %d has empty label", id)
		}
		if prev, ok := t.byLabel[label]; ok {
			return CategoryTable{}, fmt.Errorf("category label %q used by %d and %d", label, prev, id)
		}
		t.byID[Category(id)] = label
		t.byLabel[label] = Category(id)
	}
	return t, nil
}

// Len returns the number of declared categories.
func (t CategoryTable) Len() int { return len(t.byID) }

// Lookup returns the category id for a label.
func (t CategoryTable) Lookup(label string) (Category, error) {
	c, ok := t.byLabel[strings.TrimSpace(label)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrCategoryNotSupported, label)
	}
	return c, nil
}

// Label returns the label of a category id.
func (t CategoryTable) Label(c Category) (string, bool) {
	l, ok := t.byID[c]
	return l, ok
}

// Labels returns labels ordered by category id.
func (t CategoryTable) Labels() []string {
	ids := make([]int, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.byID[Category(id)])
	}
	return out
}
