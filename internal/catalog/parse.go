package catalog

import (
	"strings"

	"x402watch/internal/jsontree"
)

const (
	keyItems       = "items"
	keyHasNextPage = "hasNextPage"
)

// ParsePage locates the item list and the continuation flag anywhere in the
// response tree.
//
// Missing or non-array items yield an empty page. Missing or non-boolean
// hasNextPage means "no further pages", so a malformed response can never
// keep a sweep paginating.
func ParsePage(tree jsontree.Node) PageResult {
	var res PageResult

	if items, ok := jsontree.FindFirst(tree, keyItems); ok && items.IsArray() {
		res.Entries = make([]Entry, 0, len(items.Elems()))
		for _, it := range items.Elems() {
			if e, ok := parseEntry(it); ok {
				res.Entries = append(res.Entries, e)
			}
		}
	}

	if more, ok := jsontree.FindFirst(tree, keyHasNextPage); ok {
		res.HasNextPage, _ = more.Bool()
	}
	return res
}

func parseEntry(n jsontree.Node) (Entry, bool) {
	if !n.IsObject() {
		return Entry{}, false
	}
	e := Entry{Raw: n}

	if origins, ok := n.Get("origins"); ok {
		for _, o := range origins.Elems() {
			id := strings.TrimSpace(o.StringOf("id"))
			if id == "" {
				continue
			}
			e.Origins = append(e.Origins, Origin{
				ID:          id,
				Title:       o.StringOf("title"),
				Description: o.StringOf("description"),
				Origin:      o.StringOf("origin"),
			})
		}
	}

	if recipients, ok := n.Get("recipients"); ok {
		for _, r := range recipients.Elems() {
			if s, ok := r.Str(); ok && s != "" {
				e.Recipients = append(e.Recipients, s)
			}
		}
	}
	return e, true
}
