package jsontree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Node {
	t.Helper()
	n, err := ParseLenient([]byte(s))
	require.NoError(t, err)
	return n
}

func TestFindFirstNestedInListOfMaps(t *testing.T) {
	tree := mustParse(t, `{"outer":[{"x":1},{"mid":{"deep":{"target":42}}}]}`)

	v, ok := FindFirst(tree, "target")
	require.True(t, ok)
	f, ok := v.Float64()
	require.True(t, ok)
	assert.Equal(t, 42.0, f)
}

func TestFindFirstAbsent(t *testing.T) {
	tree := mustParse(t, `{"a":[1,2,{"b":"c"}],"d":{"e":null}}`)

	_, ok := FindFirst(tree, "items")
	assert.False(t, ok)
}

func TestFindFirstReturnsFirstInDocumentOrder(t *testing.T) {
	tree := mustParse(t, `{"z":{"key":"deep-first"},"key":"shallow-later"}`)

	v, ok := FindFirst(tree, "key")
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "deep-first", s)
}

func TestFindFirstSkipsNullMatches(t *testing.T) {
	tree := ObjectNode(
		M("items", NullNode()),
		M("data", ObjectNode(M("items", ArrayNode(IntNode(1))))),
	)

	v, ok := FindFirst(tree, "items")
	require.True(t, ok)
	assert.True(t, v.IsArray())
	assert.Len(t, v.Elems(), 1)
}

func TestFindFirstIgnoresScalars(t *testing.T) {
	for _, n := range []Node{StringNode("items"), IntNode(3), BoolNode(true), NullNode(), {}} {
		_, ok := FindFirst(n, "items")
		assert.False(t, ok, "kind %s", n.Kind())
	}
}

func TestParsePreservesMemberOrder(t *testing.T) {
	tree := mustParse(t, `{"c":1,"a":2,"b":3}`)

	var keys []string
	for _, m := range tree.Members() {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"c", "a", "b"}, keys)
}

func TestParseScalarsAndEscapes(t *testing.T) {
	tree := mustParse(t, `{"s":"line\nbreak é","t":true,"n":null,"f":1.5,"e":[],"o":{}}`)

	s, ok := tree.Get("s")
	require.True(t, ok)
	str, _ := s.Str()
	assert.Equal(t, "line\nbreak é", str)

	b, _ := tree.Get("t")
	bv, ok := b.Bool()
	assert.True(t, ok)
	assert.True(t, bv)

	n, _ := tree.Get("n")
	assert.True(t, n.IsNull())

	e, _ := tree.Get("e")
	assert.True(t, e.IsArray())
	assert.Empty(t, e.Elems())

	o, _ := tree.Get("o")
	assert.True(t, o.IsObject())
	assert.Empty(t, o.Members())
}

func TestParseLenientRecoversMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "trailing comma", body: `{"data":{"items":[{"id":"A"},],"hasNextPage":false,}}`},
		{name: "missing closing brace", body: `{"data":{"items":[{"id":"A"}],"hasNextPage":false}`},
		{name: "trailing garbage", body: `{"data":{"items":[{"id":"A"}],"hasNextPage":false}} xyz`},
		{name: "trailing garbage and comma", body: `{"data":{"items":[{"id":"A"},],"hasNextPage":false}}` + "\x00\x00junk"},
		{name: "pretty printed trailing comma", body: "{\n \"items\": [\n  {\"id\": \"A\"},\n ],\n \"hasNextPage\": false\n}"},
		{name: "pretty printed trailing text", body: "{\n \"items\": [\n  {\"id\": \"A\"}\n ],\n \"hasNextPage\": false\n}\n-- end --"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := ParseLenient([]byte(tt.body))
			require.NoError(t, err)

			items, ok := FindFirst(tree, "items")
			require.True(t, ok)
			require.Len(t, items.Elems(), 1)
			assert.Equal(t, "A", items.Elems()[0].StringOf("id"))

			more, ok := FindFirst(tree, "hasNextPage")
			require.True(t, ok)
			b, _ := more.Bool()
			assert.False(t, b)
		})
	}
}

func TestParseLenientJSONLines(t *testing.T) {
	body := "{\"json\":{\"0\":[[0],[null,0,0]]}}\n" +
		"{\"json\":[0,0,[[{\"result\":0}]]]}\n" +
		"{\"json\":[2,0,[[{\"items\":[{\"origins\":[{\"id\":\"A\"}]}],\"hasNextPage\":true}]]]}\n"

	tree, err := ParseLenient([]byte(body))
	require.NoError(t, err)
	require.True(t, tree.IsArray())
	assert.Len(t, tree.Elems(), 3)

	more, ok := FindFirst(tree, "hasNextPage")
	require.True(t, ok)
	b, _ := more.Bool()
	assert.True(t, b)
}

func TestParseLenientJSONLinesWithDamagedDataLine(t *testing.T) {
	head := "{\"json\":{\"0\":[[0],[null,0,0]]}}\n"
	tests := []struct {
		name string
		data string
	}{
		{name: "trailing garbage", data: "{\"json\":[2,0,[[{\"items\":[{\"origins\":[{\"id\":\"A\"}]}],\"hasNextPage\":true}]]]}\x00\x00junk"},
		{name: "truncated", data: "{\"json\":[2,0,[[{\"items\":[{\"origins\":[{\"id\":\"A\"}]}],\"hasNextPage\":true}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := ParseLenient([]byte(head + tt.data + "\n"))
			require.NoError(t, err)
			require.True(t, tree.IsArray())
			require.Len(t, tree.Elems(), 2)

			items, ok := FindFirst(tree, "items")
			require.True(t, ok)
			require.Len(t, items.Elems(), 1)
			origins, ok := FindFirst(items, "origins")
			require.True(t, ok)
			assert.Equal(t, "A", origins.Elems()[0].StringOf("id"))

			more, ok := FindFirst(tree, "hasNextPage")
			require.True(t, ok)
			b, _ := more.Bool()
			assert.True(t, b)
		})
	}
}

func TestParseLenientEmptyBody(t *testing.T) {
	_, err := ParseLenient([]byte("  \n "))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMarshalJSONKeepsMemberOrder(t *testing.T) {
	n := mustParse(t, `{"z":1,"a":[true,null,"x\"y"],"m":{}}`)
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":[true,null,"x\"y"],"m":{}}`, string(b))

	b, err = json.Marshal(Node{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
