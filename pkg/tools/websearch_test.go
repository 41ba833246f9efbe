package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTavilySearch(t *testing.T) {
	var gotBody tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Oslo weather", "url": "https://example.com/oslo", "content": "Sunny, 22C"},
				{"title": "Oslo forecast", "url": "https://example.com/forecast", "content": "Clear through Friday"},
			},
		})
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", 0)
	client.baseURL = srv.URL

	got, err := client.Search(context.Background(), "weather in oslo")
	require.NoError(t, err)

	assert.Equal(t, "tvly-test", gotBody.APIKey)
	assert.Equal(t, "weather in oslo", gotBody.Query)
	// Result contents only, blank-line separated; titles and URLs are
	// not forwarded to the model.
	assert.Equal(t, "Sunny, 22C\n\nClear through Friday", got)
}

func TestTavilySearchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", 0)
	client.baseURL = srv.URL

	_, err := client.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestTavilySearchMissingKey(t *testing.T) {
	client := NewTavilyClient("", 0)
	_, err := client.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestTavilySearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", 0)
	client.baseURL = srv.URL

	got, err := client.Search(context.Background(), "obscure query")
	require.NoError(t, err)
	assert.Equal(t, "No results found.", got)
}

type fakeSearch struct {
	result string
	err    error
	gotQ   string
}

func (f *fakeSearch) Search(ctx context.Context, query string) (string, error) {
	f.gotQ = query
	return f.result, f.err
}

func TestRegisterWebSearch(t *testing.T) {
	e := NewExecutor()
	fake := &fakeSearch{result: "search says hi"}
	require.NoError(t, RegisterWebSearch(e, fake))

	got := e.Execute(context.Background(), WebSearchToolName, `{"query": "hello"}`)
	assert.Equal(t, "search says hi", got)
	assert.Equal(t, "hello", fake.gotQ)

	schemas := e.Schemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, WebSearchToolName, schemas[0].Name)
}

func TestRegisterWebSearchFailureSurfacesAsText(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, RegisterWebSearch(e, &fakeSearch{err: fmt.Errorf("network unreachable")}))

	got := e.Execute(context.Background(), WebSearchToolName, `{"query": "hello"}`)
	assert.Equal(t, "webSearch failed: network unreachable", got)
}

func TestRegisterWebSearchEmptyQueryRejected(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, RegisterWebSearch(e, &fakeSearch{result: "unused"}))

	got := e.Execute(context.Background(), WebSearchToolName, `{"query": "   "}`)
	assert.Contains(t, got, "webSearch failed:")
}
