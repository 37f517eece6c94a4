package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/oauth"
	"github.com/mailsift/mailsift/internal/retrieve"
)

// openMailbox connects to the configured Gmail account. Tests replace it.
var openMailbox = func(ctx context.Context) (gmail.API, error) {
	if cfg.Gmail.Account == "" {
		return nil, fmt.Errorf("no Gmail account configured.%s", oauthSetupHint())
	}
	mgr, err := newOAuthManager()
	if err != nil {
		return nil, err
	}

	ts, err := mgr.TokenSource(ctx, cfg.Gmail.Account)
	if err != nil {
		if errors.Is(err, oauth.ErrNoToken) {
			return nil, fmt.Errorf("%w (run 'mailsift auth import <token.json>' first)", err)
		}
		return nil, err
	}

	return gmail.NewClient(ts,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Gmail.RateLimitQPS))),
		gmail.WithUserID(cfg.Gmail.UserID),
	), nil
}

func newOAuthManager() (*oauth.Manager, error) {
	if cfg.OAuth.ClientSecrets == "" {
		return nil, errOAuthNotConfigured()
	}
	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return nil, wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}
	return mgr, nil
}

// newService builds the retrieval layer over api from the loaded config.
func newService(api gmail.API) (*retrieve.Service, error) {
	backoff, err := cfg.BackoffUnit()
	if err != nil {
		return nil, err
	}
	retries := cfg.Retrieval.MaxRetries
	return retrieve.NewService(api, retrieve.Options{
		Logger:        logger,
		MaxRetries:    &retries,
		BackoffUnit:   backoff,
		PageSize:      cfg.Retrieval.PageSize,
		PublicDomains: cfg.Retrieval.PublicDomains,
	}), nil
}

// withService opens the mailbox, runs fn and closes the connection.
func withService(ctx context.Context, fn func(svc *retrieve.Service, api gmail.API) error) error {
	api, err := openMailbox(ctx)
	if err != nil {
		return err
	}
	defer api.Close()

	svc, err := newService(api)
	if err != nil {
		return err
	}
	return fn(svc, api)
}
