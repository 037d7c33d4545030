package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultResultCount = 5
	maxResultCount     = 10
	searchCacheTTL     = 5 * time.Minute
	maxSearchCacheSize = 500
)

// SearchParams are the model-facing parameters for web_search.
type SearchParams struct {
	Query       string `json:"query" jsonschema:"description=The search query"`
	ResultCount int    `json:"result_count,omitempty" jsonschema:"minimum=1,maximum=10,description=Number of results to return (default 5)"`
}

// SearchResult is a single search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the full web_search output.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type searchCacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// WebSearch implements the web_search tool. Identical queries within the
// cache TTL are served from memory.
type WebSearch struct {
	config     WebSearchConfig
	httpClient *http.Client
	schema     json.RawMessage

	cacheMu sync.Mutex
	cache   map[string]*searchCacheEntry
}

// WebSearchConfig configures the web search tool.
type WebSearchConfig struct {
	// BaseURL overrides the search endpoint. The endpoint must accept
	// SearXNG-style queries (?q=...&format=json). Empty uses DuckDuckGo's
	// instant answer API.
	BaseURL string
}

// NewWebSearch creates the web_search tool.
func NewWebSearch(config WebSearchConfig) *WebSearch {
	return &WebSearch{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		schema:     deriveSchema(&SearchParams{}),
		cache:      make(map[string]*searchCacheEntry),
	}
}

func (t *WebSearch) Name() string {
	return "web_search"
}

func (t *WebSearch) Description() string {
	return "Search the web for current information. Returns result titles, URLs, and snippets. Use read_page to fetch the full content of a result."
}

func (t *WebSearch) Schema() json.RawMessage {
	return t.schema
}

func (t *WebSearch) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params SearchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}
	if params.ResultCount <= 0 {
		params.ResultCount = defaultResultCount
	}
	if params.ResultCount > maxResultCount {
		params.ResultCount = maxResultCount
	}

	cacheKey := fmt.Sprintf("%d:%s", params.ResultCount, params.Query)
	if cached := t.fromCache(cacheKey); cached != nil {
		return formatSearchResult(cached), nil
	}

	var response *SearchResponse
	var err error
	if t.config.BaseURL != "" {
		response, err = t.searchJSON(ctx, &params)
	} else {
		response, err = t.searchDuckDuckGo(ctx, &params)
	}
	if err != nil {
		return errorResult("search failed: %v", err), nil
	}

	t.putCache(cacheKey, response)
	return formatSearchResult(response), nil
}

func formatSearchResult(response *SearchResponse) *Result {
	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return errorResult("failed to format response: %v", err)
	}
	return &Result{Content: string(output)}
}

func (t *WebSearch) fromCache(key string) *SearchResponse {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *WebSearch) putCache(key string, response *SearchResponse) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	if len(t.cache) >= maxSearchCacheSize {
		// Full after cleanup; drop the new entry rather than scanning for
		// eviction candidates on the hot path.
		return
	}
	t.cache[key] = &searchCacheEntry{response: response, expiresAt: now.Add(searchCacheTTL)}
}

// searchJSON queries a SearXNG-compatible endpoint.
func (t *WebSearch) searchJSON(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	searchURL, err := url.Parse(t.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search URL: %w", err)
	}
	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")
	searchURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, params.ResultCount)
	for i := 0; i < len(parsed.Results) && i < params.ResultCount; i++ {
		r := parsed.Results[i]
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &SearchResponse{Query: params.Query, Results: results}, nil
}

// searchDuckDuckGo queries DuckDuckGo's instant answer API.
func (t *WebSearch) searchDuckDuckGo(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(params.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; RelayBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DuckDuckGo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, params.ResultCount)
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, SearchResult{
			Title:   ddg.Heading,
			URL:     ddg.AbstractURL,
			Snippet: ddg.AbstractText,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= params.ResultCount {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}
	return &SearchResponse{Query: params.Query, Results: results}, nil
}
