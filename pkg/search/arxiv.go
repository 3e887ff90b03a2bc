package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/retry"
)

const DefaultArxivURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Authors   []string    `xml:"author>name"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches the arXiv Atom API. Abstracts stand in for page content.
type Arxiv struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewArxiv() *Arxiv {
	return &Arxiv{
		BaseURL: DefaultArxivURL,
		Client:  &http.Client{},
		Logger:  slog.Default(),
	}
}

func (a *Arxiv) Search(ctx context.Context, req research.SearchRequest) ([]research.Page, error) {
	maxResults := req.Limit
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+req.Query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build API request: %w", err)
	}

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		a.Logger.Error("API returned non-200 status code", "status", resp.StatusCode, "query", req.Query)
		return nil, retry.StatusError(resp, string(body), suggestedWait(resp.Header.Get("Retry-After"), ""))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	a.Logger.Info("Arxiv search successful", "query", req.Query, "count", len(feed.Entry))

	pages := make([]research.Page, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		link := entry.abstractURL()
		if link == "" {
			continue
		}
		pages = append(pages, research.Page{
			URL:      link,
			Title:    collapse(entry.Title),
			Markdown: entry.markdown(),
		})
	}
	return pages, nil
}

func (e ArxivEntry) abstractURL() string {
	for _, l := range e.Link {
		if l.Rel == "alternate" {
			return l.Href
		}
	}
	return strings.TrimSpace(e.ID)
}

func (e ArxivEntry) markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", collapse(e.Title))
	if len(e.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n\n", strings.Join(e.Authors, ", "))
	}
	if e.Published != "" {
		fmt.Fprintf(&b, "Published: %s\n\n", e.Published)
	}
	for _, l := range e.Link {
		if l.Type == "application/pdf" {
			fmt.Fprintf(&b, "PDF: %s\n\n", l.Href)
			break
		}
	}
	fmt.Fprintf(&b, "## Summary\n\n%s\n", collapse(e.Summary))
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
