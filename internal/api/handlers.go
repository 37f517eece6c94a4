package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mailsift/mailsift/internal/mime"
	"github.com/mailsift/mailsift/internal/retrieve"
)

const (
	// maxBatchBody bounds the request body of a batch fetch.
	maxBatchBody = 1 << 20
	// maxSearchResults bounds the max parameter of a search.
	maxSearchResults = 500
	// snippetLen is the length of snippets derived from the body.
	snippetLen = 200
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// MessageSummary represents a message in search responses.
type MessageSummary struct {
	ID             string   `json:"id"`
	ThreadID       string   `json:"thread_id"`
	Subject        string   `json:"subject"`
	From           string   `json:"from"`
	To             []string `json:"to"`
	Date           string   `json:"date,omitempty"`
	Snippet        string   `json:"snippet"`
	Labels         []string `json:"labels"`
	HasAttachments bool     `json:"has_attachments"`
}

// MessageDetail represents a full message.
type MessageDetail struct {
	MessageSummary
	Cc          []string         `json:"cc"`
	MessageID   string           `json:"message_id,omitempty"`
	InReplyTo   string           `json:"in_reply_to,omitempty"`
	References  []string         `json:"references,omitempty"`
	Body        string           `json:"body"`
	BodyHTML    string           `json:"body_html,omitempty"`
	Attachments []AttachmentInfo `json:"attachments"`
}

// AttachmentInfo represents attachment metadata.
type AttachmentInfo struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	Inline   bool   `json:"inline,omitempty"`
}

// BatchRequest is the body of POST /api/v1/messages/batch.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

// BatchResponse lists fetched messages and the ids given up on.
// Unparseable names the abandoned ids that arrived malformed.
type BatchResponse struct {
	Messages    []MessageDetail `json:"messages"`
	Abandoned   []string        `json:"abandoned"`
	Unparseable []string        `json:"unparseable,omitempty"`
}

// SearchResponse represents accumulated search results.
type SearchResponse struct {
	Query     string           `json:"query"`
	Pages     int              `json:"pages"`
	Count     int              `json:"count"`
	Messages  []MessageSummary `json:"messages"`
	Abandoned []string         `json:"abandoned"`
}

// HistoryResponse answers a sender history check.
type HistoryResponse struct {
	Sender             string `json:"sender"`
	Term               string `json:"term"`
	Before             string `json:"before"`
	Exclude            string `json:"exclude,omitempty"`
	PriorCommunication bool   `json:"prior_communication"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeRetrievalError maps a retrieval error to a response. Bad input is the
// caller's fault; anything else is a failure talking to Gmail.
func (s *Server) writeRetrievalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *retrieve.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid_request", ve.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn(op+" interrupted", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusGatewayTimeout, "timeout", "Request did not complete in time")
	default:
		s.logger.Error(op+" failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "Failed to retrieve messages from Gmail")
	}
}

// handleBatch fetches messages by id.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Body must be a JSON object with an ids array")
		return
	}

	res, err := s.retriever.FetchBatch(r.Context(), req.IDs)
	if err != nil {
		s.writeRetrievalError(w, r, "batch fetch", err)
		return
	}

	resp := BatchResponse{
		Messages:    make([]MessageDetail, 0, len(res.Messages)),
		Abandoned:   nonNil(res.Abandoned),
		Unparseable: res.Unparseable,
	}
	for _, m := range res.Messages {
		resp.Messages = append(resp.Messages, NewMessageDetail(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetMessage returns a single message by Gmail id.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	s.writeMessage(w, r, "get message", func(ctx context.Context) (*mime.Message, error) {
		return s.retriever.Get(ctx, chi.URLParam(r, "id"))
	})
}

// handleFindByMessageID returns the message carrying a Message-ID header.
func (s *Server) handleFindByMessageID(w http.ResponseWriter, r *http.Request) {
	s.writeMessage(w, r, "find message", func(ctx context.Context) (*mime.Message, error) {
		return s.retriever.FindByMessageID(ctx, pathParam(r, "messageID"))
	})
}

func (s *Server) writeMessage(w http.ResponseWriter, r *http.Request, op string, fetch func(context.Context) (*mime.Message, error)) {
	msg, err := fetch(r.Context())
	if err != nil {
		s.writeRetrievalError(w, r, op, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	writeJSON(w, http.StatusOK, NewMessageDetail(msg))
}

// handleSearch runs a Gmail query and accumulates result pages.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	labels := q["label"]
	if query == "" && len(labels) == 0 {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' or 'label' is required")
		return
	}

	maxResults := retrieve.MaxPageSize
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchResults {
			writeError(w, http.StatusBadRequest, "invalid_request",
				"max must be an integer between 1 and "+strconv.Itoa(maxSearchResults))
			return
		}
		maxResults = n
	}

	res, err := s.retriever.Search(r.Context(), query, labels, maxResults)
	if err != nil {
		s.writeRetrievalError(w, r, "search", err)
		return
	}

	resp := SearchResponse{
		Query:     query,
		Pages:     res.Pages,
		Count:     len(res.Messages),
		Messages:  make([]MessageSummary, 0, len(res.Messages)),
		Abandoned: nonNil(res.Abandoned),
	}
	for _, m := range res.Messages {
		resp.Messages = append(resp.Messages, NewMessageSummary(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSenderHistory reports whether the mailbox corresponded with a sender
// before a point in time.
func (s *Server) handleSenderHistory(w http.ResponseWriter, r *http.Request) {
	sender := pathParam(r, "sender")
	q := r.URL.Query()

	before := s.now()
	if v := q.Get("before"); v != "" {
		t, err := ParseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		before = t
	}
	exclude := q.Get("exclude")

	term, err := s.retriever.SearchTerm(sender)
	if err != nil {
		s.writeRetrievalError(w, r, "sender history", err)
		return
	}
	found, err := s.retriever.HasPriorCommunication(r.Context(), sender, before, exclude)
	if err != nil {
		s.writeRetrievalError(w, r, "sender history", err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Sender:             sender,
		Term:               term,
		Before:             before.UTC().Format(time.RFC3339),
		Exclude:            exclude,
		PriorCommunication: found,
	})
}

// ParseTime accepts RFC 3339, YYYY-MM-DD (UTC midnight) or Unix seconds.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, errors.New("time must be RFC 3339, YYYY-MM-DD or Unix seconds: " + strconv.Quote(v))
}

// NewMessageSummary builds the summary view of a parsed message.
func NewMessageSummary(m *mime.Message) MessageSummary {
	summary := MessageSummary{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		Subject:        m.Subject,
		From:           formatAddress(m.Sender()),
		To:             formatAddresses(m.To),
		Snippet:        m.Snippet,
		Labels:         nonNil(m.LabelIDs),
		HasAttachments: len(m.Attachments) > 0,
	}
	if summary.Snippet == "" {
		summary.Snippet = truncate(m.BodyPreview(), snippetLen)
	}
	date := m.Date
	if date.IsZero() {
		date = m.InternalDate
	}
	if !date.IsZero() {
		summary.Date = date.UTC().Format(time.RFC3339)
	}
	return summary
}

// NewMessageDetail builds the full view of a parsed message.
func NewMessageDetail(m *mime.Message) MessageDetail {
	detail := MessageDetail{
		MessageSummary: NewMessageSummary(m),
		Cc:             formatAddresses(m.Cc),
		MessageID:      m.MessageID,
		InReplyTo:      m.InReplyTo,
		References:     m.References,
		Body:           m.BodyPreview(),
		BodyHTML:       m.BodyHTML,
		Attachments:    make([]AttachmentInfo, 0, len(m.Attachments)),
	}
	for _, att := range m.Attachments {
		detail.Attachments = append(detail.Attachments, AttachmentInfo{
			Filename: att.Filename,
			MimeType: att.ContentType,
			Size:     att.Size,
			Inline:   att.IsInline,
		})
	}
	return detail
}

func formatAddress(a mime.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

func formatAddresses(addrs []mime.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, formatAddress(a))
	}
	return out
}

// pathParam returns an unescaped route parameter. chi matches against the
// raw path when one is set, so escaped characters may survive routing.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
