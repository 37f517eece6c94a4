package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
	"github.com/mailsift/mailsift/internal/search"
)

const (
	incomingLimit = 2
	outgoingLimit = 1
)

// DefaultPublicDomains are consumer mail providers. Addresses at these
// domains are searched by full address rather than by domain.
var DefaultPublicDomains = []string{
	"gmail.com",
	"googlemail.com",
	"yahoo.com",
	"hotmail.com",
	"outlook.com",
	"live.com",
	"icloud.com",
	"me.com",
	"aol.com",
	"proton.me",
	"protonmail.com",
}

// DomainSet is a read-only set of lowercased domains.
type DomainSet struct {
	domains map[string]struct{}
}

// NewDomainSet builds a set from domains. Entries are trimmed and lowercased.
func NewDomainSet(domains ...string) DomainSet {
	s := DomainSet{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			s.domains[d] = struct{}{}
		}
	}
	return s
}

// Contains reports whether domain is in the set.
func (s DomainSet) Contains(domain string) bool {
	_, ok := s.domains[strings.ToLower(domain)]
	return ok
}

// Len returns the number of domains.
func (s DomainSet) Len() int { return len(s.domains) }

// SenderHistoryResolver answers whether the mailbox has corresponded with a
// sender before a point in time.
type SenderHistoryResolver struct {
	lister gmail.MessageLister
	public DomainSet
	logger *slog.Logger
}

// NewSenderHistoryResolver creates a resolver. An empty public set falls back
// to DefaultPublicDomains.
func NewSenderHistoryResolver(lister gmail.MessageLister, public DomainSet, logger *slog.Logger) *SenderHistoryResolver {
	if public.Len() == 0 {
		public = NewDomainSet(DefaultPublicDomains...)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SenderHistoryResolver{lister: lister, public: public, logger: logger}
}

// SearchTerm returns the term searched for sender: the full lowercased
// address for public domains, otherwise the bare domain.
func (r *SenderHistoryResolver) SearchTerm(sender string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(sender))
	if err != nil {
		return "", validationErrorf("sender", "%q: %v", sender, err)
	}
	email := strings.ToLower(addr.Address)
	domain := mime.Domain(email)
	if domain == "" {
		return "", validationErrorf("sender", "%q has no domain", sender)
	}
	if r.public.Contains(domain) {
		return email, nil
	}
	return domain, nil
}

// HasPriorCommunication reports whether any message from or to sender exists
// before asOf, ignoring excludeID. The incoming and outgoing searches run
// concurrently; an error from either is returned.
func (r *SenderHistoryResolver) HasPriorCommunication(ctx context.Context, sender string, asOf time.Time, excludeID string) (bool, error) {
	term, err := r.SearchTerm(sender)
	if err != nil {
		return false, err
	}

	var incoming, outgoing []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := r.search(gctx, search.Query{FromAddrs: []string{term}, BeforeDate: &asOf}, incomingLimit)
		incoming = ids
		return err
	})
	g.Go(func() error {
		ids, err := r.search(gctx, search.Query{ToAddrs: []string{term}, BeforeDate: &asOf}, outgoingLimit)
		outgoing = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, id := range append(incoming, outgoing...) {
		if id != excludeID {
			r.logger.Debug("prior communication found", "term", term, "id", id)
			return true, nil
		}
	}
	return false, nil
}

func (r *SenderHistoryResolver) search(ctx context.Context, q search.Query, limit int) ([]string, error) {
	query := q.String()
	resp, err := r.lister.ListMessages(ctx, gmail.ListOptions{Query: query, MaxResults: limit})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return resp.IDs(), nil
}
