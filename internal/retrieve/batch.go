// Package retrieve is the message retrieval layer: batched fetch by id with
// per-item retry, paginated search accumulation and the sender history check.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultBackoffUnit is multiplied by the retry level to get the wait
	// before that retry.
	DefaultBackoffUnit = time.Second
)

// Parser converts a raw wire message into a parsed message.
type Parser func(raw *gmail.RawMessage) (*mime.Message, error)

// Reasons attached to abandonment log entries.
const (
	reasonRetriesExhausted = "retries_exhausted"
	reasonUnparseable      = "unparseable"
	reasonCancelled        = "cancelled"
)

// BatchResult is the outcome of a batch fetch. Every requested id is either
// in Messages or in Abandoned.
type BatchResult struct {
	Messages  []*mime.Message
	Abandoned []string

	// Unparseable is the subset of Abandoned that was delivered but could
	// not be parsed. The rest of Abandoned never arrived.
	Unparseable []string
}

// BatchFetcher fetches messages by id through the batch endpoint, retrying
// only the ids that failed.
type BatchFetcher struct {
	api         gmail.BatchGetter
	parse       Parser
	logger      *slog.Logger
	clock       gmail.Clock
	maxRetries  int
	backoffUnit time.Duration
}

// BatchOption configures a BatchFetcher.
type BatchOption func(*BatchFetcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BatchOption {
	return func(f *BatchFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock sets the clock used for backoff waits.
func WithClock(clk gmail.Clock) BatchOption {
	return func(f *BatchFetcher) {
		if clk != nil {
			f.clock = clk
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) BatchOption {
	return func(f *BatchFetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoffUnit sets the per-level backoff unit.
func WithBackoffUnit(d time.Duration) BatchOption {
	return func(f *BatchFetcher) {
		if d >= 0 {
			f.backoffUnit = d
		}
	}
}

// NewBatchFetcher creates a fetcher. A nil parse defaults to mime.Parse.
func NewBatchFetcher(api gmail.BatchGetter, parse Parser, opts ...BatchOption) *BatchFetcher {
	if parse == nil {
		parse = mime.Parse
	}
	f := &BatchFetcher{
		api:         api,
		parse:       parse,
		logger:      slog.Default(),
		clock:       gmail.SystemClock(),
		maxRetries:  DefaultMaxRetries,
		backoffUnit: DefaultBackoffUnit,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchBatch fetches and parses up to gmail.MaxBatchSize messages. Ids that
// still fail after the last retry, or whose content cannot be parsed, are
// returned in Abandoned; that is not an error.
//
// If ctx is cancelled the messages collected so far are returned together
// with ctx.Err(), and the unresolved ids are listed in Abandoned.
func (f *BatchFetcher) FetchBatch(ctx context.Context, ids []string) (*BatchResult, error) {
	if len(ids) > gmail.MaxBatchSize {
		f.logger.Warn("batch too large", "ids", len(ids), "max", gmail.MaxBatchSize)
		return nil, validationErrorf("batch", "%d ids exceeds the limit of %d", len(ids), gmail.MaxBatchSize)
	}

	result := &BatchResult{}
	if len(ids) == 0 {
		return result, nil
	}

	missing := ids
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			f.logger.Warn("batch cancelled, abandoning ids",
				"ids", missing, "reason", reasonCancelled, "error", err)
			result.Abandoned = append(result.Abandoned, missing...)
			return result, err
		}

		missing = f.attempt(ctx, missing, attempt, result)
		if len(missing) == 0 {
			return result, nil
		}

		if attempt >= f.maxRetries {
			f.logger.Warn("batch retries exhausted, abandoning ids",
				"ids", missing, "attempts", attempt+1, "reason", reasonRetriesExhausted)
			result.Abandoned = append(result.Abandoned, missing...)
			return result, nil
		}

		backoff := time.Duration(attempt+1) * f.backoffUnit
		f.logger.Debug("retrying failed batch items",
			"ids", len(missing), "attempt", attempt+1, "backoff", backoff)

		select {
		case <-ctx.Done():
			f.logger.Warn("batch cancelled, abandoning ids",
				"ids", missing, "reason", reasonCancelled, "error", ctx.Err())
			result.Abandoned = append(result.Abandoned, missing...)
			return result, ctx.Err()
		case <-f.clock.After(backoff):
		}
	}
}

// attempt issues one batch call for ids, appends what succeeds to result and
// returns the ids to retry.
func (f *BatchFetcher) attempt(ctx context.Context, ids []string, attempt int, result *BatchResult) []string {
	items, err := f.api.BatchGetMessages(ctx, ids)
	if err != nil {
		f.logger.Warn("batch call failed", "ids", len(ids), "attempt", attempt, "error", err)
		return ids
	}
	if len(items) != len(ids) {
		f.logger.Warn("batch response misaligned",
			"ids", len(ids), "items", len(items), "attempt", attempt)
		return ids
	}

	var retry []string
	for i, item := range items {
		id := ids[i]
		if !item.OK() {
			code, msg := 0, "empty item"
			if item.Err != nil {
				code, msg = item.Err.Code, item.Err.Message
			}
			f.logger.Warn("batch item failed",
				"id", id, "code", code, "message", msg, "attempt", attempt)
			retry = append(retry, id)
			continue
		}

		parsed, err := f.parse(item.Message)
		if err != nil {
			f.logger.Warn("abandoning unparseable message",
				"id", id, "reason", reasonUnparseable, "error", err)
			result.Abandoned = append(result.Abandoned, id)
			result.Unparseable = append(result.Unparseable, id)
			continue
		}
		result.Messages = append(result.Messages, parsed)
	}
	return retry
}

// Fetch fetches any number of ids by splitting them into batches of at most
// gmail.MaxBatchSize. Batches run one after another.
func (f *BatchFetcher) Fetch(ctx context.Context, ids []string) (*BatchResult, error) {
	result := &BatchResult{}
	for start := 0; start < len(ids); start += gmail.MaxBatchSize {
		end := min(start+gmail.MaxBatchSize, len(ids))
		chunk, err := f.FetchBatch(ctx, ids[start:end])
		if chunk != nil {
			result.Messages = append(result.Messages, chunk.Messages...)
			result.Abandoned = append(result.Abandoned, chunk.Abandoned...)
			result.Unparseable = append(result.Unparseable, chunk.Unparseable...)
		}
		if err != nil {
			result.Abandoned = append(result.Abandoned, ids[end:]...)
			return result, fmt.Errorf("fetch batch at %d: %w", start, err)
		}
	}
	return result, nil
}
