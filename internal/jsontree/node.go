// Package jsontree holds an order-preserving JSON value tree and the
// key-search used to pull fields out of loosely structured responses.
//
// Node is a small tagged union of {object, array, scalar}. Object members keep
// document order so a depth-first search has a deterministic "first" match,
// which a Go map cannot provide.
package jsontree

import (
	"strconv"
)

type Kind uint8

const (
	Invalid Kind = iota
	Null
	Bool
	Number
	String
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return "invalid"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Node
}

// Node is an immutable JSON value. The zero Node is Invalid (absent).
type Node struct {
	kind    Kind
	text    string // String value, or the literal text of a Number
	boolean bool
	members []Member
	elems   []Node
}

func NullNode() Node             { return Node{kind: Null} }
func BoolNode(b bool) Node       { return Node{kind: Bool, boolean: b} }
func StringNode(s string) Node   { return Node{kind: String, text: s} }
func NumberNode(lit string) Node { return Node{kind: Number, text: lit} }
func IntNode(n int) Node         { return Node{kind: Number, text: strconv.Itoa(n)} }

func ObjectNode(members ...Member) Node { return Node{kind: Object, members: members} }
func ArrayNode(elems ...Node) Node      { return Node{kind: Array, elems: elems} }

// M builds an object member.
func M(key string, v Node) Member { return Member{Key: key, Value: v} }

func (n Node) Kind() Kind        { return n.kind }
func (n Node) IsValid() bool     { return n.kind != Invalid }
func (n Node) IsNull() bool      { return n.kind == Null }
func (n Node) IsObject() bool    { return n.kind == Object }
func (n Node) IsArray() bool     { return n.kind == Array }
func (n Node) Members() []Member { return n.members }
func (n Node) Elems() []Node     { return n.elems }

// Str returns the value of a String node.
func (n Node) Str() (string, bool) {
	if n.kind != String {
		return "", false
	}
	return n.text, true
}

// Bool returns the value of a Bool node.
func (n Node) Bool() (bool, bool) {
	if n.kind != Bool {
		return false, false
	}
	return n.boolean, true
}

// Float64 returns the value of a Number node.
func (n Node) Float64() (float64, bool) {
	if n.kind != Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Get returns the first direct member of an object named key.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != Object {
		return Node{}, false
	}
	for _, m := range n.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Node{}, false
}

// StringOf returns the string member key, or "" when it is absent, null, or
// not a string.
func (n Node) StringOf(key string) string {
	v, ok := n.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.Str()
	return s
}
