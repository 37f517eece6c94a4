package gmail

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// gmailErrorBody builds a Gmail API error response JSON body.
// Optional fields (message, errors, details) are included only when non-zero.
func gmailErrorBody(code int, message string, errors []map[string]string, details []map[string]string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if errors != nil {
		inner["errors"] = errors
	}
	if details != nil {
		inner["details"] = details
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func errorWithReason(reason string) []byte {
	return gmailErrorBody(403, "", []map[string]string{{"reason": reason}}, nil)
}

func errorWithDetail(reason string) []byte {
	return gmailErrorBody(403, "", nil, []map[string]string{{"reason": reason}})
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: errorWithReason("rateLimitExceeded"),
			want: true,
		},
		{
			name: "RateLimitExceededByMessage",
			body: gmailErrorBody(403, quotaExceededMsg, []map[string]string{{"reason": "rateLimitExceeded"}}, nil),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: errorWithDetail("RATE_LIMIT_EXCEEDED"),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: gmailErrorBody(403, quotaExceededMsg, nil, nil),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: errorWithReason("userRateLimitExceeded"),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: errorWithReason("forbidden"),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// instantClock fires every timer immediately.
type instantClock struct{}

func (instantClock) Now() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestClient(t *testing.T, h http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{
		WithHTTPClient(srv.Client()),
		WithEndpoints(srv.URL+"/gmail/v1", srv.URL+"/batch/gmail/v1"),
		WithClock(instantClock{}),
		WithMaxRetries(2),
	}, opts...)
	return NewClient(nil, opts...)
}

func rawJSON(id, mimeText string) string {
	b, _ := json.Marshal(map[string]any{
		"id":           id,
		"threadId":     "t-" + id,
		"labelIds":     []string{"INBOX"},
		"historyId":    "42",
		"internalDate": "1704067200000",
		"raw":          base64.RawURLEncoding.EncodeToString([]byte(mimeText)),
	})
	return string(b)
}

func TestListMessages_Params(t *testing.T) {
	var gotQuery map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"messages":[{"id":"a","threadId":"ta"},{"id":"b","threadId":"tb"}],"nextPageToken":"n1"}`)
	}))

	resp, err := c.ListMessages(context.Background(), ListOptions{
		Query:      "from:acme.com",
		PageToken:  "p0",
		LabelIDs:   []string{"INBOX", "Label_1"},
		MaxResults: 20,
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	want := map[string][]string{
		"q":          {"from:acme.com"},
		"pageToken":  {"p0"},
		"labelIds":   {"INBOX", "Label_1"},
		"maxResults": {"20"},
	}
	if diff := cmp.Diff(want, gotQuery); diff != "" {
		t.Errorf("query params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, resp.IDs()); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if resp.NextPageToken != "n1" {
		t.Errorf("NextPageToken = %q, want n1", resp.NextPageToken)
	}
}

func TestGetMessageRaw(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "raw" {
			t.Errorf("format = %q, want raw", r.URL.Query().Get("format"))
		}
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, rawJSON("m1", "Subject: hi\r\n\r\nbody"))
	}))

	msg, err := c.GetMessageRaw(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessageRaw: %v", err)
	}
	if msg.ID != "m1" || msg.ThreadID != "t-m1" || msg.HistoryID != 42 || msg.InternalDate != 1704067200000 {
		t.Errorf("unexpected metadata: %+v", msg)
	}
	if string(msg.Raw) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("Raw = %q", msg.Raw)
	}

	_, err = c.GetMessageRaw(context.Background(), "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"labels":[{"id":"INBOX","name":"INBOX","type":"system"}]}`)
	}))

	labels, err := c.ListLabels(context.Background())
	if err != nil {
		t.Fatalf("ListLabels: %v", err)
	}
	if len(labels) != 1 || labels[0].ID != "INBOX" {
		t.Errorf("labels = %+v", labels)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRequest_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.ListLabels(context.Background())
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("error = %v, want max retries exceeded", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", got)
	}
}

// batchHandler answers a multipart batch request, replying in reverse order.
// Ids listed in fail get a 500 error part; ids in drop get no part at all.
func batchHandler(t *testing.T, fail, drop map[string]bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/batch/gmail/v1" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("request content type: %v", err)
			return
		}

		type inner struct{ cid, id string }
		var parts []inner
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("read request part: %v", err)
				return
			}
			line, _ := bufio.NewReader(p).ReadString('\n')
			// "GET /gmail/v1/users/me/messages/<id>?format=raw"
			path := strings.Fields(line)[1]
			id := strings.TrimPrefix(strings.SplitN(path, "?", 2)[0], "/gmail/v1/users/me/messages/")
			parts = append(parts, inner{cid: strings.Trim(p.Header.Get("Content-ID"), "<>"), id: id})
		}

		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
		for i := len(parts) - 1; i >= 0; i-- {
			p := parts[i]
			if drop[p.id] {
				continue
			}
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", "application/http")
			h.Set("Content-ID", "<response-"+p.cid+">")
			pw, _ := mw.CreatePart(h)
			if fail[p.id] {
				fmt.Fprint(pw, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: application/json\r\n\r\n")
				fmt.Fprint(pw, `{"error":{"code":500,"message":"backend error"}}`)
				continue
			}
			fmt.Fprint(pw, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n")
			fmt.Fprint(pw, rawJSON(p.id, "Subject: "+p.id+"\r\n\r\nbody"))
		}
		mw.Close()
	})
}

func TestBatchGetMessages(t *testing.T) {
	c := newTestClient(t, batchHandler(t, map[string]bool{"b": true}, map[string]bool{"c": true}))

	items, err := c.BatchGetMessages(context.Background(), []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("BatchGetMessages: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("len(items) = %d, want 4", len(items))
	}
	if !items[0].OK() || items[0].Message.ID != "a" {
		t.Errorf("item 0 = %+v, want message a", items[0])
	}
	if items[1].OK() || items[1].Err.Code != 500 || items[1].Err.Message != "backend error" {
		t.Errorf("item 1 = %+v, want 500 backend error", items[1])
	}
	if items[2].OK() || items[2].Err.Code != http.StatusBadGateway {
		t.Errorf("item 2 = %+v, want missing-part error", items[2])
	}
	if !items[3].OK() || items[3].Message.ID != "d" {
		t.Errorf("item 3 = %+v, want message d", items[3])
	}
}

func TestBatchGetMessages_TooLarge(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	ids := make([]string, MaxBatchSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}
	if _, err := c.BatchGetMessages(context.Background(), ids); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}

func TestBatchIndex(t *testing.T) {
	tests := []struct {
		cid    string
		want   int
		wantOK bool
	}{
		{"<response-item-0>", 0, true},
		{"<response-item-7>", 7, true},
		{"response-item-3", 3, true},
		{"<response-item-9>", 0, false}, // out of range for n=8
		{"<response-other>", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := batchIndex(tt.cid, 8)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("batchIndex(%q) = %d, %v; want %d, %v", tt.cid, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDecodeBatch_BadContentType(t *testing.T) {
	if _, err := decodeBatch("application/json", []byte("{}"), 1); err == nil {
		t.Fatal("expected error for non-multipart response")
	}
}
