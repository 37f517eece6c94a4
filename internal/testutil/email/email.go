// Package email provides test helpers for constructing raw RFC 2822 messages
// and seeding them into the Gmail mock.
package email

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/mailsift/mailsift/internal/gmail"
)

// Attachment is a file part added by MakeRaw.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Options configures a raw message. Empty From, To and Subject get defaults.
type Options struct {
	From        string
	To          string
	Subject     string
	Date        string
	ContentType string
	Body        string
	Headers     map[string]string
	Attachments []Attachment
}

const boundary = "mailsift-test-boundary"

// MakeRaw builds a CRLF-terminated message from opts.
func MakeRaw(opts Options) []byte {
	if opts.From == "" {
		opts.From = "sender@example.com"
	}
	if opts.To == "" {
		opts.To = "recipient@example.com"
	}
	if opts.Subject == "" {
		opts.Subject = "Test"
	}

	var b strings.Builder
	b.WriteString("From: " + opts.From + "\r\n")
	b.WriteString("To: " + opts.To + "\r\n")
	b.WriteString("Subject: " + opts.Subject + "\r\n")
	if opts.Date != "" {
		b.WriteString("Date: " + opts.Date + "\r\n")
	}

	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + ": " + opts.Headers[k] + "\r\n")
	}

	if len(opts.Attachments) == 0 {
		if opts.ContentType != "" {
			b.WriteString("Content-Type: " + opts.ContentType + "\r\n")
		}
		b.WriteString("\r\n")
		b.WriteString(opts.Body)
		return []byte(b.String())
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(opts.Body + "\r\n")
	for _, att := range opts.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		b.WriteString("--" + boundary + "\r\n")
		fmt.Fprintf(&b, "Content-Type: %s; name=%q\r\n", ct, att.Filename)
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n", att.Filename)
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString(base64.StdEncoding.EncodeToString(att.Data) + "\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// Raw wraps MakeRaw(opts) in a Gmail RawMessage with the given id.
func Raw(id string, opts Options) *gmail.RawMessage {
	raw := MakeRaw(opts)
	return &gmail.RawMessage{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     []string{"INBOX"},
		Raw:          raw,
		SizeEstimate: int64(len(raw)),
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	}
}

// Seed stores one message per id in the mock, each with subject "msg <id>".
func Seed(mock *gmail.MockAPI, ids ...string) {
	msgs := make([]*gmail.RawMessage, len(ids))
	for i, id := range ids {
		msgs[i] = Raw(id, Options{Subject: "msg " + id, Body: "body of " + id})
	}
	mock.SetupMessages(msgs...)
}

// IDs returns n ids of the form "<prefix><i>" starting at 0.
func IDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return ids
}
