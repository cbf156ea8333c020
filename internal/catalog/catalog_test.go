package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402watch/internal/jsontree"
	"x402watch/pkg/logx"
)

const jsonlPage = `{"json":{"0":[[0],[null,0,0]]}}
{"json":[0,0,[[{"result":0}]]]}
{"json":[2,0,[[{"items":[{"origins":[{"id":"A","title":"Alpha","description":null,"origin":"https://a.example"},{"title":"no id"}],"recipients":["0xabc"]},"junk",{"origins":[{"id":"B"}]}],"hasNextPage":true}]]]}
`

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		RetryBase: time.Millisecond,
	}, logx.Nop())
}

func TestBuildInput(t *testing.T) {
	got, err := BuildInput(3, 500)
	require.NoError(t, err)
	assert.Equal(t, `{"0":{"json":{"pagination":{"page_size":500,"page":3}}}}`, got)
}

func TestFetchPageSendsQueryAndHeaders(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trpc/public.sellers.bazaar.list", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("batch"))
		assert.Equal(t, `{"0":{"json":{"pagination":{"page_size":20,"page":1}}}}`, r.URL.Query().Get("input"))
		assert.Equal(t, "*/*", r.Header.Get("accept"))
		assert.Equal(t, "application/jsonl", r.Header.Get("trpc-accept"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("user-agent"))
		_, _ = w.Write([]byte(jsonlPage))
	})

	res, err := c.FetchPage(context.Background(), 1, 20)
	require.NoError(t, err)

	assert.True(t, res.HasNextPage)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, []string{"A", "B"}, res.OriginIDs())

	a := res.Entries[0].Origins[0]
	assert.Equal(t, "Alpha", a.Title)
	assert.Empty(t, a.Description)
	assert.Equal(t, "https://a.example", a.Origin)
	assert.Equal(t, []string{"0xabc"}, res.Entries[0].Recipients)
	assert.Empty(t, res.Entries[1].Recipients)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"items":[],"hasNextPage":false}`))
	})

	res, err := c.FetchPage(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	_, err := c.Fetch(context.Background(), 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchUnrecoverableBodyIsDecodeError(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("   "))
	})

	_, err := c.Fetch(context.Background(), 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRejectsBadArguments(t *testing.T) {
	c := New(Config{}, logx.Nop())

	_, err := c.Fetch(context.Background(), -1, 10)
	assert.Error(t, err)
	_, err = c.Fetch(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestFetchHonoursCancellation(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePageDefaults(t *testing.T) {
	tests := []struct {
		name     string
		tree     jsontree.Node
		entries  int
		nextPage bool
	}{
		{
			name:     "no items key",
			tree:     jsontree.ObjectNode(jsontree.M("hasNextPage", jsontree.BoolNode(true))),
			nextPage: true,
		},
		{
			name: "items not an array",
			tree: jsontree.ObjectNode(jsontree.M("items", jsontree.StringNode("x"))),
		},
		{
			name: "hasNextPage not a bool",
			tree: jsontree.ObjectNode(
				jsontree.M("items", jsontree.ArrayNode(jsontree.ObjectNode())),
				jsontree.M("hasNextPage", jsontree.StringNode("true")),
			),
			entries: 1,
		},
		{
			name: "scalar root",
			tree: jsontree.IntNode(7),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParsePage(tt.tree)
			assert.Len(t, res.Entries, tt.entries)
			assert.Equal(t, tt.nextPage, res.HasNextPage)
		})
	}
}
