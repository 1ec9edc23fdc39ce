// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghapp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghclient"
	"github.com/redbonzai/github-pr-wrapper/pkg/installtoken"
	"github.com/redbonzai/github-pr-wrapper/pkg/jira"
	"github.com/redbonzai/github-pr-wrapper/pkg/slack"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TicketFiler files Jira tickets for detected secrets.
type TicketFiler interface {
	CreateSecretTicket(ctx context.Context, f jira.Finding) (*jira.Ticket, error)
}

// Notifier delivers Slack messages without failing the caller.
type Notifier interface {
	Notify(ctx context.Context, channel, text string) slack.Delivery
}

type Option func(*App)

// WithTicketFiler enables ProcessAlert ticket creation.
func WithTicketFiler(tf TicketFiler) Option {
	return func(a *App) { a.tickets = tf }
}

// WithNotifier enables ProcessAlert Slack notifications.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithTransport sets the transport for installation scoped requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.transport = rt }
}

// WithAudit records created tickets with em.
func WithAudit(em *audit.Emitter) Option {
	return func(a *App) { a.audit = em }
}

// App wraps a GitHub App.
type App struct {
	client    *github.Client
	tokens    *installtoken.Provider
	transport http.RoundTripper
	owners    *lru.TwoQueueCache[string, int64]
	tickets   TicketFiler
	notifier  Notifier
	audit     *audit.Emitter
}

// New returns an App. client must authenticate as the app itself.
func New(client *github.Client, tokens *installtoken.Provider, opts ...Option) (*App, error) {
	owners, err := lru.New2Q[string, int64](200)
	if err != nil {
		return nil, err
	}
	a := &App{
		client: client,
		tokens: tokens,
		owners: owners,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Token returns an installation token.
func (a *App) Token(ctx context.Context, installationID int64) (*installtoken.InstallationToken, error) {
	return a.tokens.Token(ctx, installationID)
}

// AppInfo describes the authenticated app.
func (a *App) AppInfo(ctx context.Context) (*github.App, error) {
	app, _, err := a.client.Apps.Get(ctx, "")
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	return app, nil
}

// Installations lists every installation of the app.
func (a *App) Installations(ctx context.Context) ([]*github.Installation, error) {
	var all []*github.Installation
	opts := &github.ListOptions{PerPage: 100}
	for {
		installs, resp, err := a.client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, upstream.FromGitHub(err)
		}
		all = append(all, installs...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// LookupInstallation returns the installation ID for the account owner.
func (a *App) LookupInstallation(ctx context.Context, owner string) (int64, error) {
	if v, ok := a.owners.Get(owner); ok {
		clog.InfoContextf(ctx, "found installation in cache for %s", owner)
		return v, nil
	}

	// Walk through the pages of installations looking for an account
	// matching owner.
	page := 1
	for page != 0 {
		installs, resp, err := a.client.Apps.ListInstallations(ctx, &github.ListOptions{
			Page:    page,
			PerPage: 100,
		})
		if err != nil {
			return 0, upstream.FromGitHub(err)
		}

		for _, install := range installs {
			if install.Account.GetLogin() == owner {
				installID := install.GetID()
				a.owners.Add(owner, installID)
				return installID, nil
			}
		}
		page = resp.NextPage
	}

	return 0, status.Errorf(codes.NotFound, "no installation found for %q", owner)
}

// installation returns a client acting as installationID.
func (a *App) installation(ctx context.Context, installationID int64) (*github.Client, error) {
	client, err := ghclient.WithToken(ctx, a.tokens.TokenSource(ctx, installationID), a.transport, a.client.BaseURL.String())
	if err != nil {
		return nil, fmt.Errorf("creating installation client: %w", err)
	}
	return client, nil
}
