package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/kaptinlin/jsonrepair"
)

var ErrEmpty = errors.New("jsontree: no JSON document found")

// Parse builds a tree from the first JSON value in data. Trailing bytes after
// that value are ignored.
func Parse(data []byte) (Node, error) {
	raw, vt, _, err := jsonparser.Get(data)
	if err != nil {
		return Node{}, fmt.Errorf("jsontree: %w", err)
	}
	return build(raw, vt)
}

// ParseLenient accepts well-formed JSON, JSON lines, and near-JSON (trailing
// commas, missing closing brackets, trailing garbage).
//
// A body whose lines each start a complete object or array is JSON lines and
// yields an Array with one element per line. Anything else, such as a
// pretty-printed document, is recovered as a single document. A line or
// document that cannot be recovered fails the whole parse.
func ParseLenient(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Node{}, ErrEmpty
	}
	if json.Valid(data) {
		return container(Parse(data))
	}

	lines := nonEmptyLines(data)
	if !isJSONLines(lines) {
		return recoverDoc(data)
	}
	docs := make([]Node, 0, len(lines))
	for i, line := range lines {
		n, err := recoverDoc(line)
		if err != nil {
			return Node{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		docs = append(docs, n)
	}
	return ArrayNode(docs...), nil
}

func nonEmptyLines(data []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if line = bytes.TrimSpace(line); len(line) > 0 {
			out = append(out, line)
		}
	}
	return out
}

// isJSONLines reports whether lines look like one document per line: the
// first line holds a closed value and every line opens an object or array.
// A pretty-printed document fails on its first line.
func isJSONLines(lines [][]byte) bool {
	if len(lines) < 2 {
		return false
	}
	if _, closed := firstValue(lines[0]); !closed {
		return false
	}
	for _, l := range lines {
		if l[0] != '{' && l[0] != '[' {
			return false
		}
	}
	return true
}

// recoverDoc drops anything after the first complete value, then repairs
// what is left if it is still not valid JSON.
func recoverDoc(b []byte) (Node, error) {
	b, _ = firstValue(b)
	if json.Valid(b) {
		return container(Parse(b))
	}
	fixed, err := jsonrepair.JSONRepair(string(b))
	if err != nil {
		return Node{}, fmt.Errorf("jsontree: repair: %w", err)
	}
	return container(Parse([]byte(fixed)))
}

// firstValue returns the prefix of b up to the bracket closing its leading
// object or array, and whether such a bracket was found. b is returned
// whole when it does not start with '{' or '[' or never closes.
func firstValue(b []byte) ([]byte, bool) {
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return b, false
	}
	depth := 0
	inStr, esc := false, false
	for i, c := range b {
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return b[:i+1], true
			}
		}
	}
	return b, false
}

// container rejects top-level scalars; a response body is always an object
// or an array.
func container(n Node, err error) (Node, error) {
	if err != nil {
		return Node{}, err
	}
	if n.kind != Object && n.kind != Array {
		return Node{}, fmt.Errorf("%w: top-level %s", ErrEmpty, n.kind)
	}
	return n, nil
}

func build(raw []byte, vt jsonparser.ValueType) (Node, error) {
	switch vt {
	case jsonparser.Null:
		return NullNode(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Node{}, err
		}
		return BoolNode(b), nil
	case jsonparser.Number:
		return NumberNode(string(raw)), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Node{}, err
		}
		return StringNode(s), nil
	case jsonparser.Object:
		return buildObject(raw)
	case jsonparser.Array:
		return buildArray(raw)
	default:
		return Node{}, fmt.Errorf("jsontree: unsupported value type %s", vt)
	}
}

func buildObject(raw []byte) (Node, error) {
	members := []Member{}
	if isEmptyContainer(raw) {
		return ObjectNode(members...), nil
	}
	err := jsonparser.ObjectEach(raw, func(key, value []byte, vt jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		child, err := build(value, vt)
		if err != nil {
			return err
		}
		members = append(members, M(k, child))
		return nil
	})
	if err != nil {
		return Node{}, fmt.Errorf("jsontree: object: %w", err)
	}
	return ObjectNode(members...), nil
}

func buildArray(raw []byte) (Node, error) {
	elems := []Node{}
	if isEmptyContainer(raw) {
		return ArrayNode(elems...), nil
	}
	var firstErr error
	_, err := jsonparser.ArrayEach(raw, func(value []byte, vt jsonparser.ValueType, _ int, err error) {
		if firstErr != nil {
			return
		}
		if err != nil {
			firstErr = err
			return
		}
		child, err := build(value, vt)
		if err != nil {
			firstErr = err
			return
		}
		elems = append(elems, child)
	})
	if err == nil {
		err = firstErr
	}
	if err != nil {
		return Node{}, fmt.Errorf("jsontree: array: %w", err)
	}
	return ArrayNode(elems...), nil
}

// isEmptyContainer reports whether raw is "{}" or "[]" modulo whitespace.
func isEmptyContainer(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) < 2 {
		return false
	}
	return len(bytes.TrimSpace(raw[1:len(raw)-1])) == 0
}
