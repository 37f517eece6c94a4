package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
	"github.com/mailsift/mailsift/internal/search"
)

// LookupAPI is what Lookup needs from the remote mailbox.
type LookupAPI interface {
	gmail.MessageLister
	gmail.MessageGetter
}

// Lookup resolves single messages. A message that does not exist is
// reported as (nil, nil).
type Lookup struct {
	api   LookupAPI
	parse Parser
}

// NewLookup creates a Lookup. A nil parse defaults to mime.Parse.
func NewLookup(api LookupAPI, parse Parser) *Lookup {
	if parse == nil {
		parse = mime.Parse
	}
	return &Lookup{api: api, parse: parse}
}

// Get fetches and parses the message with the given Gmail id.
func (l *Lookup) Get(ctx context.Context, id string) (*mime.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationErrorf("id", "must not be empty")
	}
	raw, err := l.api.GetMessageRaw(ctx, id)
	if err != nil {
		var nf *gmail.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	msg, err := l.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	return msg, nil
}

// FindByMessageID resolves an RFC 822 Message-ID header value to a message.
func (l *Lookup) FindByMessageID(ctx context.Context, messageID string) (*mime.Message, error) {
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if messageID == "" {
		return nil, validationErrorf("message id", "must not be empty")
	}

	query := search.Query{RFC822MsgID: messageID}.String()
	resp, err := l.api.ListMessages(ctx, gmail.ListOptions{Query: query, MaxResults: 1})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	ids := resp.IDs()
	if len(ids) == 0 {
		return nil, nil
	}
	return l.Get(ctx, ids[0])
}
