package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"devcrew/internal/agent"

	bravesearch "github.com/cnosuke/go-brave-search"
)

// Searcher answers web search queries.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// StubSearcher returns canned results without touching the network.
type StubSearcher struct{}

func (StubSearcher) Search(ctx context.Context, query string) (string, error) {
	return fmt.Sprintf("Search results for: %s - [Simulated search results for: %s]", query, query), nil
}

const braveResultCount = 5

// BraveSearcher queries the Brave Search API.
type BraveSearcher struct {
	client *bravesearch.Client
}

func NewBraveSearcher(apiKey string) (*BraveSearcher, error) {
	client, err := bravesearch.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating brave client: %w", err)
	}
	return &BraveSearcher{client: client}, nil
}

func (b *BraveSearcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := b.client.WebSearch(ctx, query, &bravesearch.WebSearchParams{
		Count: braveResultCount,
	})
	if err != nil {
		return "", fmt.Errorf("brave search: %w", err)
	}

	results := resp.GetWebResults()
	if len(results) == 0 {
		return fmt.Sprintf("Search results for: %s - no results found.", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n", query)
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "%s\n%s\n%s", r.Title, r.URL, r.Description)
	}
	slog.Debug("web_search: brave done", "query", query, "results", len(results))
	return truncate([]byte(sb.String())), nil
}

type webSearchArgs struct {
	Query string `json:"query" validate:"required" jsonschema:"description=What to search the web for."`
}

// WebSearch exposes a Searcher to agents.
type WebSearch struct {
	searcher Searcher
}

// NewWebSearch returns the web search tool. A nil searcher selects the stub.
func NewWebSearch(searcher Searcher) *WebSearch {
	if searcher == nil {
		searcher = StubSearcher{}
	}
	return &WebSearch{searcher: searcher}
}

func (w *WebSearch) Name() string        { return "web_search" }
func (w *WebSearch) Description() string { return "Searches the web for information on a topic." }
func (w *WebSearch) InputSchema() any    { return agent.SchemaOf(&webSearchArgs{}) }

func (w *WebSearch) Execute(ctx context.Context, input string) (string, error) {
	var args webSearchArgs
	if err := agent.BindArgs(input, &args); err != nil {
		return "", err
	}
	return w.Search(ctx, args.Query), nil
}

// Search runs the query. Backend failures are reported in the result.
func (w *WebSearch) Search(ctx context.Context, query string) string {
	slog.Info("Searching the web for: "+query, "query", query)

	result, err := w.searcher.Search(ctx, query)
	if err != nil {
		slog.Warn("web_search: backend failed", "query", query, "error", err)
		return fmt.Sprintf("Error searching the web for %s: %v", query, err)
	}
	return result
}
