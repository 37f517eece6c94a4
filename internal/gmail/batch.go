package gmail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const batchItemPrefix = "item-"

// BatchGetMessages fetches up to MaxBatchSize raw messages through Gmail's
// multipart batch endpoint. Items are realigned to the input order using
// their Content-ID; an item missing from the response is reported as an
// ItemError so callers can retry it.
func (c *Client) BatchGetMessages(ctx context.Context, messageIDs []string) ([]BatchItem, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	if len(messageIDs) > MaxBatchSize {
		return nil, fmt.Errorf("batch get limited to %d messages, got %d", MaxBatchSize, len(messageIDs))
	}

	body, contentType, err := c.encodeBatch(messageIDs)
	if err != nil {
		return nil, err
	}

	if err := c.rateLimiter.AcquireN(ctx, OpBatchItem, len(messageIDs)); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := c.send(ctx, http.MethodPost, c.batchURL, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}

	items, err := decodeBatch(resp.header.Get("Content-Type"), resp.body, len(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}
	return items, nil
}

// encodeBatch builds the multipart/mixed request body, one application/http
// part per id.
func (c *Client) encodeBatch(ids []string) ([]byte, string, error) {
	prefix := "/gmail/v1"
	if u, err := url.Parse(c.baseURL); err == nil && u.Path != "" {
		prefix = u.Path
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, id := range ids {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-ID", "<"+batchItemPrefix+strconv.Itoa(i)+">")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("encode batch: %w", err)
		}
		fmt.Fprintf(part, "GET %s/users/%s/messages/%s?format=raw\r\n\r\n",
			prefix, c.userID, url.PathEscape(id))
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("encode batch: %w", err)
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

// decodeBatch parses a multipart/mixed batch response into n positional items.
func decodeBatch(contentType string, body []byte, n int) ([]BatchItem, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected batch content type: %q", contentType)
	}

	items := make([]BatchItem, n)
	seen := make([]bool, n)

	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read batch part: %w", err)
		}

		idx, ok := batchIndex(part.Header.Get("Content-ID"), n)
		if !ok {
			part.Close()
			continue
		}
		items[idx] = decodeBatchPart(part)
		seen[idx] = true
		part.Close()
	}

	for i := range items {
		if !seen[i] {
			items[i] = BatchItem{Err: &ItemError{Code: http.StatusBadGateway, Message: "missing from batch response"}}
		}
	}
	return items, nil
}

// batchIndex extracts N from "<response-item-N>".
func batchIndex(contentID string, n int) (int, bool) {
	id := strings.Trim(contentID, "<>")
	i := strings.LastIndex(id, batchItemPrefix)
	if i < 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(id[i+len(batchItemPrefix):])
	if err != nil || idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

// decodeBatchPart reads one embedded HTTP response.
func decodeBatchPart(part io.Reader) BatchItem {
	resp, err := http.ReadResponse(bufio.NewReader(part), nil)
	if err != nil {
		return BatchItem{Err: &ItemError{Code: http.StatusBadGateway, Message: "malformed batch part: " + err.Error()}}
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return BatchItem{Err: &ItemError{Code: http.StatusBadGateway, Message: "read batch part: " + err.Error()}}
	}

	if resp.StatusCode >= 300 {
		var er errorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return BatchItem{Err: &ItemError{Code: resp.StatusCode, Message: msg}}
	}

	msg, err := toRawMessage(data)
	if err != nil {
		return BatchItem{Err: &ItemError{Code: resp.StatusCode, Message: err.Error()}}
	}
	return BatchItem{Message: msg}
}
