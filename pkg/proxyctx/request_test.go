package proxyctx

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequestContext(t *testing.T) *RequestContext {
	t.Helper()

	snap := &RequestSnapshot{
		Method: "GET",
		URL:    "https://api.example.com/api/user/profile?region=US&region=EU",
		Path:   "/api/user/profile",
		Query:  url.Values{"region": {"US", "EU"}},
		Headers: http.Header{
			"Accept":     {"application/json"},
			"X-App-Env":  {"staging"},
			"User-Agent": {"app/1.2.3"},
		},
		Body: []byte(`{"hello":"world"}`),
		Raw:  []byte("GET /api/user/profile HTTP/1.1\r\n\r\n"),
	}
	return &RequestContext{
		ID:       "test",
		Original: snap,
		Current:  snap.Clone(),
		Metadata: make(map[string]string),
	}
}

func TestOriginalNeverMutated(t *testing.T) {
	ctx := newTestRequestContext(t)

	ctx.SetMethod("POST")
	ctx.SetHeader("Accept", "text/plain")
	ctx.SetHeader("X-New", "value")
	ctx.RemoveHeader("User-Agent")
	ctx.SetQueryParam("region", "JP")
	ctx.SetBody([]byte("changed"))

	assert.Equal(t, "GET", ctx.Original.Method)
	assert.Equal(t, "application/json", ctx.Original.Headers.Get("Accept"))
	assert.Empty(t, ctx.Original.Headers.Get("X-New"))
	assert.Equal(t, "app/1.2.3", ctx.Original.Headers.Get("User-Agent"))
	assert.Equal(t, []string{"US", "EU"}, ctx.Original.Query["region"])
	assert.Equal(t, []byte(`{"hello":"world"}`), ctx.Original.Body)
}

func TestRawBytesPreservedVerbatim(t *testing.T) {
	ctx := newTestRequestContext(t)
	raw := string(ctx.Original.Raw)

	ctx.SetBody([]byte("something else entirely"))
	ctx.SetMethod("PUT")

	assert.Equal(t, raw, string(ctx.Original.Raw))
}

func TestModificationLog(t *testing.T) {
	ctx := newTestRequestContext(t)

	ctx.SetMethod("POST")
	ctx.SetHeader("Accept", "text/plain")
	ctx.SetBody([]byte("abc"))

	mods := ctx.Modifications()
	require.Len(t, mods, 3)

	assert.Equal(t, "method", mods[0].Field)
	assert.Equal(t, "GET", mods[0].OldValue)
	assert.Equal(t, "POST", mods[0].NewValue)

	assert.Equal(t, "header.Accept", mods[1].Field)
	assert.Equal(t, "application/json", mods[1].OldValue)

	assert.Equal(t, "body", mods[2].Field)
	assert.Equal(t, "17 bytes", mods[2].OldValue)
	assert.Equal(t, "3 bytes", mods[2].NewValue)

	assert.False(t, mods[0].Timestamp.IsZero())
}

func TestRollback(t *testing.T) {
	ctx := newTestRequestContext(t)

	ctx.SetMethod("DELETE")
	ctx.SetHeader("Accept", "text/plain")
	ctx.SetQueryParam("region", "JP")
	ctx.SetBody([]byte("mutated"))
	require.NotEmpty(t, ctx.Modifications())

	ctx.Rollback()

	assert.Equal(t, ctx.Original, ctx.Current)
	assert.Empty(t, ctx.Modifications())

	// Rollback produces an independent copy, not an alias of Original.
	ctx.SetMethod("PATCH")
	assert.Equal(t, "GET", ctx.Original.Method)
}

func TestSetURL(t *testing.T) {
	ctx := newTestRequestContext(t)

	require.NoError(t, ctx.SetURL("https://other.example.com/v2/items?page=2"))

	assert.Equal(t, "/v2/items", ctx.Current.Path)
	assert.Equal(t, "2", ctx.Current.Query.Get("page"))
	assert.Equal(t, "/api/user/profile", ctx.Original.Path)
}

func TestSetURL_Invalid(t *testing.T) {
	ctx := newTestRequestContext(t)
	assert.Error(t, ctx.SetURL("://bad"))
	assert.Empty(t, ctx.Modifications())
}

func TestNormalizeQuery_FirstOccurrenceWins(t *testing.T) {
	ctx := newTestRequestContext(t)

	ctx.NormalizeQuery()

	assert.Equal(t, []string{"US"}, ctx.Current.Query["region"])
	assert.Equal(t, []string{"US", "EU"}, ctx.Original.Query["region"])
}

func TestSnapshotClone_DeepCopies(t *testing.T) {
	snap := &RequestSnapshot{
		Method:  "GET",
		Headers: http.Header{"A": {"1"}},
		Query:   url.Values{"q": {"x"}},
		Body:    []byte("body"),
		Raw:     []byte("raw"),
	}

	c := snap.Clone()
	c.Headers.Set("A", "2")
	c.Query.Set("q", "y")
	c.Body[0] = 'B'
	c.Raw[0] = 'R'

	assert.Equal(t, "1", snap.Headers.Get("A"))
	assert.Equal(t, "x", snap.Query.Get("q"))
	assert.Equal(t, byte('b'), snap.Body[0])
	assert.Equal(t, byte('r'), snap.Raw[0])
}
