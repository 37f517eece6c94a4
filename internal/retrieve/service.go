package retrieve

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
)

// Options tunes a Service. Zero values select the package defaults.
type Options struct {
	Logger        *slog.Logger
	Clock         gmail.Clock
	Parser        Parser
	MaxRetries    *int
	BackoffUnit   time.Duration
	PageSize      int
	PublicDomains []string
}

// Service bundles the retrieval components over one mailbox connection.
type Service struct {
	Batch   *BatchFetcher
	Query   *PaginatedQuery
	History *SenderHistoryResolver
	Lookup  *Lookup
}

// NewService wires the retrieval components to api.
func NewService(api gmail.API, opts Options) *Service {
	batchOpts := []BatchOption{WithLogger(opts.Logger), WithClock(opts.Clock)}
	if opts.MaxRetries != nil {
		batchOpts = append(batchOpts, WithMaxRetries(*opts.MaxRetries))
	}
	if opts.BackoffUnit > 0 {
		batchOpts = append(batchOpts, WithBackoffUnit(opts.BackoffUnit))
	}
	batch := NewBatchFetcher(api, opts.Parser, batchOpts...)

	return &Service{
		Batch:   batch,
		Query:   NewPaginatedQuery(api, batch, WithQueryLogger(opts.Logger), WithPageSize(opts.PageSize)),
		History: NewSenderHistoryResolver(api, NewDomainSet(opts.PublicDomains...), opts.Logger),
		Lookup:  NewLookup(api, opts.Parser),
	}
}

// FetchBatch fetches up to gmail.MaxBatchSize messages by id.
func (s *Service) FetchBatch(ctx context.Context, ids []string) (*BatchResult, error) {
	return s.Batch.FetchBatch(ctx, ids)
}

// Fetch fetches any number of messages by id in batch-sized chunks.
func (s *Service) Fetch(ctx context.Context, ids []string) (*BatchResult, error) {
	return s.Batch.Fetch(ctx, ids)
}

// Search accumulates pages of query results until maxResults is reached.
func (s *Service) Search(ctx context.Context, query string, labelIDs []string, maxResults int) (*QueryResult, error) {
	return s.Query.QueryPages(ctx, query, labelIDs, maxResults)
}

// HasPriorCommunication reports whether sender was corresponded with before asOf.
func (s *Service) HasPriorCommunication(ctx context.Context, sender string, asOf time.Time, excludeID string) (bool, error) {
	return s.History.HasPriorCommunication(ctx, sender, asOf, excludeID)
}

// SearchTerm returns the term used for sender history searches.
func (s *Service) SearchTerm(sender string) (string, error) {
	return s.History.SearchTerm(sender)
}

// Get fetches one message by Gmail id, or nil if it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*mime.Message, error) {
	return s.Lookup.Get(ctx, id)
}

// FindByMessageID fetches the message with the given Message-ID header.
func (s *Service) FindByMessageID(ctx context.Context, messageID string) (*mime.Message, error) {
	return s.Lookup.FindByMessageID(ctx, messageID)
}
