// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ragchat/internal/model"
)

const (
	// DefaultBaseURL is the Brave web search endpoint.
	DefaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

	// fallbackURLFormat points the user at the engine's own results page
	// when the API call fails.
	fallbackURLFormat = "https://search.brave.com/search?q=%s"

	// SearchTimeout is the fixed per-query deadline. Search is best-effort;
	// a slow backend degrades to the fallback rather than stalling the send
	// pipeline.
	SearchTimeout = 5 * time.Second

	// maxResponseSize bounds search response bodies.
	maxResponseSize = 4 * 1024 * 1024
)

// braveResponse is the subset of the Brave response the client reads.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Client queries a Brave-style web search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a search client with the given subscription token.
func NewClient(apiKey string) *Client {
	return &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: SearchTimeout},
		logger:     zap.NewNop(),
	}
}

// WithBaseURL sets a custom endpoint URL.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// WithLogger sets the logger used for failure reporting.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	c.logger = logger.Named("search")
	return c
}

// Search runs a web search for query. It never returns an error: any
// failure produces the single synthetic fallback result. Results have
// empty fields normalized (missing title falls back to the query, missing
// snippet to a placeholder).
func (c *Client) Search(ctx context.Context, query string) []model.SearchResult {
	ctx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return c.fallback(query, err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fallback(query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.fallback(query, fmt.Errorf("search API error: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.fallback(query, err)
	}

	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return c.fallback(query, err)
	}

	results := make([]model.SearchResult, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		title := r.Title
		if title == "" {
			title = query
		}
		snippet := r.Description
		if snippet == "" {
			snippet = "No description available"
		}
		results = append(results, model.SearchResult{
			Title:   title,
			URL:     r.URL,
			Snippet: snippet,
		})
	}
	return results
}

// fallback builds the single synthetic result returned on any failure.
func (c *Client) fallback(query string, err error) []model.SearchResult {
	c.logger.Warn("search failed, returning fallback result",
		zap.String("query", query),
		zap.Error(err))
	return []model.SearchResult{{
		Title:   "Search error for: " + query,
		URL:     fmt.Sprintf(fallbackURLFormat, url.QueryEscape(query)),
		Snippet: "There was an error performing the search. Please try again later.",
	}}
}
