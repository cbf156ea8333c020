package catalog

import "x402watch/internal/jsontree"

// Origin is the addressable unit that is tracked. Optional fields are "" when
// the upstream omits them or sends null.
type Origin struct {
	ID          string
	Title       string
	Description string
	Origin      string
}

// Entry is one upstream service record. Recipients are payment addresses of
// the whole entry, not of a single origin.
type Entry struct {
	Origins    []Origin
	Recipients []string

	// Raw is the entry as received, kept for debug logging.
	Raw jsontree.Node
}

// PageResult is one parsed catalog page.
type PageResult struct {
	Entries     []Entry
	HasNextPage bool
}

// OriginIDs returns every origin id across entries, in API order.
func (p PageResult) OriginIDs() []string {
	ids := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		for _, o := range e.Origins {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
