package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mailsift/mailsift/internal/mime"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeMessageTable prints one line per message.
func writeMessageTable(out io.Writer, msgs []*mime.Message) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tFROM\tSUBJECT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.ID,
			formatDate(messageDate(m), "2006-01-02 15:04"),
			truncate(formatAddress(m.Sender()), 40),
			truncate(m.Subject, 60),
		)
	}
	return w.Flush()
}

func writeAbandoned(out io.Writer, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(out, "\nCould not retrieve %d message(s): %s\n", len(ids), strings.Join(ids, ", "))
}

// writeMessageText prints a full message for reading.
func writeMessageText(out io.Writer, m *mime.Message) {
	rule := strings.Repeat("═", 79)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Message: %s (thread %s)\n", m.ID, m.ThreadID)
	fmt.Fprintln(out, strings.Repeat("─", 79))

	if len(m.From) > 0 {
		fmt.Fprintf(out, "From:    %s\n", formatAddresses(m.From))
	}
	if len(m.To) > 0 {
		fmt.Fprintf(out, "To:      %s\n", formatAddresses(m.To))
	}
	if len(m.Cc) > 0 {
		fmt.Fprintf(out, "Cc:      %s\n", formatAddresses(m.Cc))
	}
	fmt.Fprintf(out, "Subject: %s\n", m.Subject)
	fmt.Fprintf(out, "Date:    %s\n", formatDate(messageDate(m), time.RFC1123))
	if m.MessageID != "" {
		fmt.Fprintf(out, "Msg-ID:  <%s>\n", m.MessageID)
	}
	if len(m.LabelIDs) > 0 {
		fmt.Fprintf(out, "Labels:  %s\n", strings.Join(m.LabelIDs, ", "))
	}

	if len(m.Attachments) > 0 {
		fmt.Fprintln(out, "\nAttachments:")
		for _, att := range m.Attachments {
			fmt.Fprintf(out, "  • %s (%s, %s)\n", att.Filename, att.ContentType, formatSize(int64(att.Size)))
		}
	}

	fmt.Fprintln(out, "\n"+rule)
	switch body := m.BodyPreview(); {
	case body != "":
		fmt.Fprintln(out, body)
	case m.Snippet != "":
		fmt.Fprintf(out, "[No body text available. Snippet: %s]\n", m.Snippet)
	default:
		fmt.Fprintln(out, "[No body content available]")
	}
	fmt.Fprintln(out, rule)
}

func messageDate(m *mime.Message) time.Time {
	if !m.Date.IsZero() {
		return m.Date
	}
	return m.InternalDate
}

func formatDate(t time.Time, layout string) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(layout)
}

func formatAddress(a mime.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Email)
	}
	return a.Email
}

func formatAddresses(addrs []mime.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = formatAddress(a)
	}
	return strings.Join(parts, ", ")
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
