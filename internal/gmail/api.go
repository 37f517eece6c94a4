// Package gmail provides a Gmail API client with rate limiting, retry logic
// and support for the multipart batch endpoint.
package gmail

import (
	"context"
	"fmt"
)

// MaxBatchSize is the largest number of ids accepted by one batch request.
const MaxBatchSize = 100

// MessageLister searches the mailbox.
type MessageLister interface {
	// ListMessages returns one page of message IDs matching opts.
	// NextPageToken is empty on the last page.
	ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error)
}

// MessageGetter fetches a single message.
type MessageGetter interface {
	// GetMessageRaw fetches a single message with raw MIME data.
	// Returns *NotFoundError if the message does not exist.
	GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error)
}

// BatchGetter fetches many messages in one remote call.
type BatchGetter interface {
	// BatchGetMessages fetches up to MaxBatchSize messages. The returned
	// slice is positionally aligned with messageIDs; each item carries
	// either a message or a per-item error. A non-nil error means the whole
	// call failed and no items were produced.
	BatchGetMessages(ctx context.Context, messageIDs []string) ([]BatchItem, error)
}

// LabelReader provides read access to account labels.
type LabelReader interface {
	ListLabels(ctx context.Context) ([]*Label, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	MessageLister
	MessageGetter
	BatchGetter
	LabelReader

	// Close releases any resources held by the client.
	Close() error
}

// ListOptions are the parameters of a messages.list call.
type ListOptions struct {
	Query      string
	PageToken  string
	LabelIDs   []string
	MaxResults int // 0 leaves the server default
}

// Label represents a Gmail label.
type Label struct {
	ID             string
	Name           string
	Type           string // "system" or "user"
	MessagesTotal  int64
	MessagesUnread int64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// IDs returns the message ids of the page in order.
func (r *MessageListResponse) IDs() []string {
	ids := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		ids[i] = m.ID
	}
	return ids
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// RawMessage contains the raw MIME data for a message.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	HistoryID    uint64
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Raw          []byte // Decoded from base64url
}

// BatchItem is one positional result of a batch request.
type BatchItem struct {
	Message *RawMessage
	Err     *ItemError
}

// OK reports whether the item carries a message.
func (b BatchItem) OK() bool {
	return b.Err == nil && b.Message != nil
}

// ItemError is the error body Gmail returns for a single failed request
// inside a batch.
type ItemError struct {
	Code    int
	Message string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("batch item failed (%d): %s", e.Code, e.Message)
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}
