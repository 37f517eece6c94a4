package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
)

// MaxPageSize is the largest number of results requested per search page.
const MaxPageSize = 20

// PageRequest describes a single search page.
type PageRequest struct {
	Query     string
	LabelIDs  []string
	PageToken string
	PageSize  int // <= 0 means MaxPageSize
}

// Page is one page of parsed search results.
type Page struct {
	Messages      []*mime.Message
	Abandoned     []string
	NextPageToken string
}

// QueryResult accumulates pages of a search.
type QueryResult struct {
	Messages  []*mime.Message
	Abandoned []string
	Pages     int
}

// PaginatedQuery runs searches page by page and resolves each page's ids
// through a BatchFetcher.
type PaginatedQuery struct {
	lister   gmail.MessageLister
	fetcher  *BatchFetcher
	logger   *slog.Logger
	pageSize int
}

// QueryOption configures a PaginatedQuery.
type QueryOption func(*PaginatedQuery)

// WithQueryLogger sets the logger.
func WithQueryLogger(logger *slog.Logger) QueryOption {
	return func(q *PaginatedQuery) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithPageSize sets the page size used by QueryPages. Values outside
// 1..MaxPageSize are ignored.
func WithPageSize(n int) QueryOption {
	return func(q *PaginatedQuery) {
		if n > 0 && n <= MaxPageSize {
			q.pageSize = n
		}
	}
}

// NewPaginatedQuery creates a paginated searcher.
func NewPaginatedQuery(lister gmail.MessageLister, fetcher *BatchFetcher, opts ...QueryOption) *PaginatedQuery {
	q := &PaginatedQuery{
		lister:   lister,
		fetcher:  fetcher,
		logger:   slog.Default(),
		pageSize: MaxPageSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueryPage lists one page of ids and fetches them.
func (q *PaginatedQuery) QueryPage(ctx context.Context, req PageRequest) (*Page, error) {
	if req.PageSize > MaxPageSize {
		q.logger.Warn("page size too large", "page_size", req.PageSize, "max", MaxPageSize)
		return nil, validationErrorf("page size", "%d exceeds the limit of %d", req.PageSize, MaxPageSize)
	}
	if req.PageSize <= 0 {
		req.PageSize = MaxPageSize
	}

	resp, err := q.lister.ListMessages(ctx, gmail.ListOptions{
		Query:      req.Query,
		PageToken:  req.PageToken,
		LabelIDs:   req.LabelIDs,
		MaxResults: req.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := resp.IDs()
	if len(ids) == 0 {
		return &Page{}, nil
	}

	batch, err := q.fetcher.FetchBatch(ctx, ids)
	page := &Page{NextPageToken: resp.NextPageToken}
	if batch != nil {
		page.Messages = batch.Messages
		page.Abandoned = batch.Abandoned
	}
	return page, err
}

// QueryPages accumulates pages until maxResults messages are collected or
// the last page is reached. The final page is taken whole, so the result
// can exceed maxResults by up to one page.
//
// An error ends the loop; the messages gathered so far are returned with it.
func (q *PaginatedQuery) QueryPages(ctx context.Context, query string, labelIDs []string, maxResults int) (*QueryResult, error) {
	if maxResults <= 0 {
		return nil, validationErrorf("max results", "must be positive, got %d", maxResults)
	}

	result := &QueryResult{}
	pageToken := ""
	for {
		page, err := q.QueryPage(ctx, PageRequest{
			Query:     query,
			LabelIDs:  labelIDs,
			PageToken: pageToken,
			PageSize:  q.pageSize,
		})
		if page != nil {
			result.Pages++
			result.Messages = append(result.Messages, page.Messages...)
			result.Abandoned = append(result.Abandoned, page.Abandoned...)
		}
		if err != nil {
			q.logger.Warn("query stopped early",
				"query", query, "page", result.Pages, "collected", len(result.Messages), "error", err)
			return result, err
		}

		q.logger.Debug("query page",
			"query", query, "page", result.Pages, "messages", len(page.Messages), "collected", len(result.Messages))

		if page.NextPageToken == "" || len(result.Messages) >= maxResults {
			return result, nil
		}
		pageToken = page.NextPageToken
	}
}
