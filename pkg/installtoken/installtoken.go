// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package installtoken issues and caches GitHub App installation tokens.
//
// A Provider keeps one cached token per installation. A cached token is
// reused until the configured TTL elapses, and never past one minute before
// GitHub expires it. Concurrent refreshes of the same installation share a
// single upstream request.
package installtoken

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	"github.com/redbonzai/github-pr-wrapper/pkg/tokencache"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expirySkew is subtracted from a token's expiry when bounding its TTL.
const expirySkew = time.Minute

// refreshTimeout bounds a token request that no single caller owns.
const refreshTimeout = 30 * time.Second

// InstallationToken is the cached representation of an issued token.
type InstallationToken struct {
	Type                string            `json:"type"`
	TokenType           string            `json:"tokenType"`
	Token               string            `json:"token"`
	InstallationID      int64             `json:"installationId"`
	Permissions         map[string]string `json:"permissions"`
	CreatedAt           time.Time         `json:"createdAt"`
	ExpiresAt           time.Time         `json:"expiresAt"`
	RepositorySelection string            `json:"repositorySelection"`
}

// Response is the body returned by the token endpoint.
type Response struct {
	Success bool               `json:"success"`
	Token   *InstallationToken `json:"token"`
}

// accessTokenResponse is GitHub's reply to POST access_tokens.
type accessTokenResponse struct {
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions"`
	RepositorySelection string            `json:"repository_selection"`
}

// CacheKey is the cache entry holding the token of installationID.
func CacheKey(installationID int64) string {
	return fmt.Sprintf("installationTokenResponse/%d", installationID)
}

type Option func(*Provider)

// WithCache shares cache with the Provider.
func WithCache(cache *tokencache.Cache[*InstallationToken]) Option {
	return func(p *Provider) { p.cache = cache }
}

// WithClock overrides the time source used for CreatedAt and TTL bounds.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithAudit records every issued token with em.
func WithAudit(em *audit.Emitter) Option {
	return func(p *Provider) { p.audit = em }
}

// Provider hands out installation tokens.
type Provider struct {
	client *github.Client
	ttl    time.Duration
	cache  *tokencache.Cache[*InstallationToken]
	group  singleflight.Group
	now    func() time.Time
	audit  *audit.Emitter
}

// New returns a Provider issuing tokens through client, which must
// authenticate as the GitHub App.
func New(client *github.Client, ttl time.Duration, opts ...Option) *Provider {
	p := &Provider{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = tokencache.New[*InstallationToken](tokencache.WithClock(p.now))
	}
	return p
}

// Token returns a valid token for installationID, issuing one when the
// cached entry is missing or expired.
func (p *Provider) Token(ctx context.Context, installationID int64) (*InstallationToken, error) {
	key := CacheKey(installationID)
	if !p.cache.IsExpired(key) {
		if tok, ok := p.cache.Get(key); ok {
			return tok, nil
		}
	}

	ch := p.group.DoChan(key, func() (any, error) {
		// Another flight may have filled the cache since the check above.
		if tok, ok := p.cache.Get(key); ok {
			return tok, nil
		}
		// The refresh is shared, so it must outlive the caller that started it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return p.issue(ctx, installationID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			clog.FromContext(ctx).Debugf("shared installation token refresh for %d", installationID)
		}
		return res.Val.(*InstallationToken), nil
	}
}

func (p *Provider) issue(ctx context.Context, installationID int64) (tok *InstallationToken, err error) {
	defer func() {
		e := audit.Event{Action: audit.ActionTokenIssued, InstallationID: installationID}
		if tok != nil {
			e.TokenSHA256 = audit.TokenDigest(tok.Token)
		}
		p.audit.Emit(ctx, e, err)
	}()

	req, err := p.client.NewRequest(http.MethodPost, fmt.Sprintf("app/installations/%d/access_tokens", installationID), nil)
	if err != nil {
		return nil, err
	}
	var resp accessTokenResponse
	if _, err := p.client.Do(ctx, req, &resp); err != nil {
		clog.FromContext(ctx).Errorf("failed to create installation token for %d: %v", installationID, err)
		return nil, upstream.FromGitHub(err)
	}

	now := p.now()
	tok = &InstallationToken{
		Type:                "token",
		TokenType:           "installation",
		Token:               resp.Token,
		InstallationID:      installationID,
		Permissions:         resp.Permissions,
		CreatedAt:           now,
		ExpiresAt:           resp.ExpiresAt,
		RepositorySelection: resp.RepositorySelection,
	}

	ttl := p.ttl
	if !resp.ExpiresAt.IsZero() {
		if bound := resp.ExpiresAt.Sub(now) - expirySkew; bound < ttl {
			ttl = bound
		}
	}
	if ttl > 0 {
		p.cache.Set(CacheKey(installationID), tok, ttl)
	}
	clog.FromContext(ctx).Infof("issued installation token for %d, cached for %s", installationID, ttl)
	return tok, nil
}

// TokenSource adapts the Provider for clients that authenticate with an
// oauth2.TokenSource.
func (p *Provider) TokenSource(ctx context.Context, installationID int64) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, provider: p, installationID: installationID}
}

type tokenSource struct {
	ctx            context.Context
	provider       *Provider
	installationID int64
}

// Token implements oauth2.TokenSource
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.provider.Token(ts.ctx, ts.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: tok.Token,
		Expiry:      tok.ExpiresAt,
	}, nil
}
