package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	tavilyBaseURL        = "https://api.tavily.com"
	tavilyMaxResults     = 5
	DefaultSearchTimeout = 30 * time.Second
)

// SearchClient performs a web search and returns the results as text for
// the model. Tests substitute a fake.
type SearchClient interface {
	Search(ctx context.Context, query string) (string, error)
}

// TavilyClient talks to the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTavilyClient creates a search client. Timeout <= 0 uses the default.
func NewTavilyClient(apiKey string, timeout time.Duration) *TavilyClient {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    tavilyBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Content string `json:"content"`
	} `json:"results"`
}

// Search queries Tavily and renders the result snippets as a single text
// block for the model.
func (c *TavilyClient) Search(ctx context.Context, query string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("search is not configured")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: tavilyMaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().Int("status", resp.StatusCode).Str("body", string(data)).Msg("Search API error")
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	return renderSearchResults(parsed), nil
}

// renderSearchResults joins each result's content with a blank line.
func renderSearchResults(resp tavilyResponse) string {
	parts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Content == "" {
			continue
		}
		parts = append(parts, r.Content)
	}
	if len(parts) == 0 {
		return "No results found."
	}
	return strings.Join(parts, "\n\n")
}

// WebSearchToolName is the name the model uses to call the search tool.
const WebSearchToolName = "webSearch"

// RegisterWebSearch adds the webSearch tool backed by the given client.
func RegisterWebSearch(e *Executor, client SearchClient) error {
	return e.Register(Definition{
		Name:        WebSearchToolName,
		Description: "Search the web for current information. Use for questions about recent events, live data, or anything outside your training data.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			return client.Search(ctx, query)
		},
	})
}
