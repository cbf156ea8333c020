package jsontree

// FindFirst performs a depth-first search over nested objects and arrays and
// returns the value of the first object member named key, in document order.
//
// A member whose value is null is not a match; the search continues past it.
// Scalars are leaves and are never descended into.
func FindFirst(n Node, key string) (Node, bool) {
	switch n.kind {
	case Object:
		for _, m := range n.members {
			if m.Key == key && m.Value.kind != Null && m.Value.kind != Invalid {
				return m.Value, true
			}
			if v, ok := FindFirst(m.Value, key); ok {
				return v, true
			}
		}
	case Array:
		for _, e := range n.elems {
			if v, ok := FindFirst(e, key); ok {
				return v, true
			}
		}
	}
	return Node{}, false
}
