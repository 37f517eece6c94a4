// Package mime turns raw Gmail messages into parsed records using enmime.
package mime

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/mailsift/mailsift/internal/gmail"
)

// Message is a parsed email together with the Gmail metadata it arrived with.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate time.Time

	Subject     string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	ReplyTo     []Address
	MessageID   string
	InReplyTo   string
	References  []string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	Errors      []string // Non-fatal parsing errors
}

// Address represents an email address with optional display name.
type Address struct {
	Name   string
	Email  string
	Domain string
}

// Attachment describes a non-body MIME part. Content is not retained.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int
	IsInline    bool
}

// Parse parses a raw Gmail message. It fails only when the MIME envelope
// cannot be read at all; recoverable problems are collected in Errors.
func Parse(raw *gmail.RawMessage) (*Message, error) {
	if raw == nil {
		return nil, fmt.Errorf("parse: nil message")
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", raw.ID, err)
	}

	msg := &Message{
		ID:        raw.ID,
		ThreadID:  raw.ThreadID,
		LabelIDs:  raw.LabelIDs,
		Snippet:   raw.Snippet,
		Subject:   ensureUTF8(env.GetHeader("Subject")),
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<> "),
		InReplyTo: strings.Trim(env.GetHeader("In-Reply-To"), "<> "),
		BodyText:  ensureUTF8(env.Text),
		BodyHTML:  ensureUTF8(env.HTML),
	}
	if raw.InternalDate > 0 {
		msg.InternalDate = time.UnixMilli(raw.InternalDate).UTC()
	}
	if dateStr := env.GetHeader("Date"); dateStr != "" {
		msg.Date = parseDate(dateStr)
	}

	msg.From = parseAddressList(env, "From")
	msg.To = parseAddressList(env, "To")
	msg.Cc = parseAddressList(env, "Cc")
	msg.ReplyTo = parseAddressList(env, "Reply-To")

	if refs := env.GetHeader("References"); refs != "" {
		msg.References = parseReferences(refs)
	}

	msg.Attachments = append(msg.Attachments, processParts(env.Attachments, false)...)
	msg.Attachments = append(msg.Attachments, processParts(env.Inlines, true)...)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}

	return msg, nil
}

func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}

	addresses := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		addresses = append(addresses, Address{
			Name:   ensureUTF8(addr.Name),
			Email:  strings.ToLower(addr.Address),
			Domain: Domain(addr.Address),
		})
	}
	return addresses
}

// Domain returns the lowercased domain part of an email address, or "" if
// the address has none.
func Domain(email string) string {
	if idx := strings.LastIndex(email, "@"); idx >= 0 {
		return strings.ToLower(strings.TrimSpace(email[idx+1:]))
	}
	return ""
}

// isBodyPart reports whether a part is message body rather than an
// attachment: text/plain or text/html with no filename and no explicit
// attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	contentType := strings.ToLower(part.ContentType)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType != "text/plain" && contentType != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disposition := strings.ToLower(part.Disposition)
	if idx := strings.Index(disposition, ";"); idx >= 0 {
		disposition = strings.TrimSpace(disposition[:idx])
	}
	return disposition != "attachment"
}

func processParts(parts []*enmime.Part, isInline bool) []Attachment {
	var result []Attachment
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		result = append(result, Attachment{
			Filename:    ensureUTF8(part.FileName),
			ContentType: part.ContentType,
			ContentID:   part.ContentID,
			Size:        len(part.Content),
			IsInline:    isInline,
		})
	}
	return result
}

func parseReferences(refs string) []string {
	var result []string
	for _, ref := range strings.Fields(refs) {
		ref = strings.Trim(ref, "<>")
		if ref != "" {
			result = append(result, ref)
		}
	}
	return result
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
}

// parseDate tries the common header date layouts and returns UTC, or the
// zero time when nothing matches.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")

	// Drop a trailing "(UTC)"-style comment.
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to readable plain text.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && len(kept) > 0 && kept[len(kept)-1] == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// BodyPreview returns the plain-text body, falling back to stripped HTML.
func (m *Message) BodyPreview() string {
	if m.BodyText != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return StripHTML(m.BodyHTML)
	}
	return ""
}

// Sender returns the first From address, or the zero Address.
func (m *Message) Sender() Address {
	if len(m.From) > 0 {
		return m.From[0]
	}
	return Address{}
}
