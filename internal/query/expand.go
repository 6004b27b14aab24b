package query

import (
	"strings"
)

// Query is a caller supplied search string.
type Query struct {
	Raw string
}

func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Raw) == ""
}

// Expander produces the equivalent terms of a query in both scripts.
type Expander struct {
	dict *Dictionary
}

func NewExpander(d *Dictionary) *Expander {
	if d == nil {
		d = DefaultDictionary()
	}
	return &Expander{dict: d}
}

func (e *Expander) Dictionary() *Dictionary {
	return e.dict
}

// Expand returns the deduplicated variants of raw in insertion order:
// the trimmed input, its lower-cased form, direct dictionary matches and,
// for multi-word input, matches of each individual word.
func (e *Expander) Expand(raw string) []string {
	term := strings.TrimSpace(raw)
	if term == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(vs ...string) {
		for _, v := range vs {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	add(term, strings.ToLower(term))
	add(e.dict.Lookup(term)...)

	words := strings.Fields(term)
	if len(words) > 1 {
		for _, w := range words {
			add(e.dict.Lookup(w)...)
		}
	}
	return out
}
