// Package search holds the search-service adapters used by the research engine.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/retry"
)

const DefaultFirecrawlURL = "https://api.firecrawl.dev"

var retryAfterPattern = regexp.MustCompile(`please retry after (\d+)s`)

// Firecrawl calls the Firecrawl /v1/search endpoint and scrapes each hit.
type Firecrawl struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewFirecrawl(apiKey, baseURL string) *Firecrawl {
	if baseURL == "" {
		baseURL = DefaultFirecrawlURL
	}
	return &Firecrawl{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
		Logger:  slog.Default(),
	}
}

type firecrawlSearchRequest struct {
	Query         string                 `json:"query"`
	Limit         int                    `json:"limit,omitempty"`
	Timeout       int64                  `json:"timeout,omitempty"`
	ScrapeOptions firecrawlScrapeOptions `json:"scrapeOptions"`
}

type firecrawlScrapeOptions struct {
	Formats []string `json:"formats"`
}

type firecrawlSearchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Markdown    string `json:"markdown"`
	} `json:"data"`
}

func (f *Firecrawl) Search(ctx context.Context, req research.SearchRequest) ([]research.Page, error) {
	formats := req.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	body, err := json.Marshal(firecrawlSearchRequest{
		Query:         req.Query,
		Limit:         req.Limit,
		Timeout:       req.Timeout.Milliseconds(),
		ScrapeOptions: firecrawlScrapeOptions{Formats: formats},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.APIKey)
	}

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make search request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var parsed firecrawlSearchResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		f.Logger.Warn("Firecrawl returned non-200 status code", "status", resp.StatusCode, "query", req.Query)
		return nil, retry.StatusError(resp, msg, suggestedWait(resp.Header.Get("Retry-After"), msg))
	}

	var parsed firecrawlSearchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if !parsed.Success && parsed.Error != "" {
		return nil, fmt.Errorf("search failed: %s", parsed.Error)
	}

	pages := make([]research.Page, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.URL == "" || d.Markdown == "" {
			continue
		}
		pages = append(pages, research.Page{URL: d.URL, Title: d.Title, Markdown: d.Markdown})
	}
	return pages, nil
}

// suggestedWait reads the server's hint from the Retry-After header or, as
// Firecrawl sometimes only puts it in the message, from the error text.
func suggestedWait(header, message string) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(header); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(message); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
