package gmail

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Labels to return
	Labels []*Label

	// Messages indexed by ID
	Messages map[string]*RawMessage

	// MessagePages serves list calls page by page using "page_N" tokens.
	MessagePages [][]string

	// QueryResults serves list calls by exact query string, truncated to
	// MaxResults. Takes precedence over MessagePages when the query matches.
	QueryResults map[string][]string

	// Error injection
	LabelsError       error
	ListMessagesError error
	// ItemFailures makes an id fail inside batch responses this many times
	// before it succeeds.
	ItemFailures map[string]int
	// ItemFailureCode is the code reported for injected item failures (default 500).
	ItemFailureCode int
	// BatchErrors are returned, in order, by successive batch calls before
	// batch calls start succeeding.
	BatchErrors []error

	// Call tracking for assertions
	LabelsCalls     int
	ListCalls       []ListOptions
	GetMessageCalls []string
	BatchCalls      [][]string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:     make(map[string]*RawMessage),
		QueryResults: make(map[string][]string),
		ItemFailures: make(map[string]int),
	}
}

// ListLabels returns the mock labels.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "SENT", Name: "SENT", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// ListMessages returns mock message IDs with pagination.
func (m *MockAPI) ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls = append(m.ListCalls, opts)

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	if ids, ok := m.QueryResults[opts.Query]; ok {
		if opts.MaxResults > 0 && len(ids) > opts.MaxResults {
			ids = ids[:opts.MaxResults]
		}
		return &MessageListResponse{
			Messages:           toMessageIDs(ids),
			ResultSizeEstimate: int64(len(ids)),
		}, nil
	}

	pageNum := 0
	if opts.PageToken != "" {
		if _, err := fmt.Sscanf(opts.PageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", opts.PageToken)
		}
	}
	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	var nextPageToken string
	if pageNum+1 < len(m.MessagePages) {
		nextPageToken = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}

	return &MessageListResponse{
		Messages:           toMessageIDs(m.MessagePages[pageNum]),
		NextPageToken:      nextPageToken,
		ResultSizeEstimate: total,
	}, nil
}

func toMessageIDs(ids []string) []MessageID {
	out := make([]MessageID, len(ids))
	for i, id := range ids {
		out[i] = MessageID{ID: id, ThreadID: "thread_" + id}
	}
	return out
}

// GetMessageRaw returns a mock message.
func (m *MockAPI) GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// BatchGetMessages mirrors the real batch endpoint: results are positional,
// unknown ids come back as 404 items and injected failures as item errors.
func (m *MockAPI) BatchGetMessages(ctx context.Context, messageIDs []string) ([]BatchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, append([]string(nil), messageIDs...))

	if len(messageIDs) > MaxBatchSize {
		return nil, fmt.Errorf("batch get limited to %d messages, got %d", MaxBatchSize, len(messageIDs))
	}
	if len(m.BatchErrors) > 0 {
		err := m.BatchErrors[0]
		m.BatchErrors = m.BatchErrors[1:]
		return nil, err
	}

	code := m.ItemFailureCode
	if code == 0 {
		code = 500
	}

	items := make([]BatchItem, len(messageIDs))
	for i, id := range messageIDs {
		if m.ItemFailures[id] > 0 {
			m.ItemFailures[id]--
			items[i] = BatchItem{Err: &ItemError{Code: code, Message: "injected failure"}}
			continue
		}
		msg, ok := m.Messages[id]
		if !ok {
			items[i] = BatchItem{Err: &ItemError{Code: 404, Message: "Requested entity was not found."}}
			continue
		}
		items[i] = BatchItem{Message: msg}
	}
	return items, nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// AddMessage adds a message to the mock store.
func (m *MockAPI) AddMessage(id string, raw []byte, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*RawMessage)
	}

	m.Messages[id] = &RawMessage{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     labelIDs,
		Raw:          raw,
		SizeEstimate: int64(len(raw)),
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	}
}

// SetupMessages adds pre-built messages to the mock store. Nil entries are skipped.
func (m *MockAPI) SetupMessages(msgs ...*RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*RawMessage)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.ID] = msg
	}
}

// BatchCallCount returns the number of batch calls made so far.
func (m *MockAPI) BatchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BatchCalls)
}

// ListCallsSnapshot returns a copy of the recorded list calls.
func (m *MockAPI) ListCallsSnapshot() []ListOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ListOptions(nil), m.ListCalls...)
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
