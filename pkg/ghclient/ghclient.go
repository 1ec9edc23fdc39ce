// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghclient constructs go-github clients pointed at the configured
// GitHub API.
package ghclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// New returns a client that sends requests through rt to baseURL.
func New(rt http.RoundTripper, baseURL string) (*github.Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub API URL: %w", err)
	}
	client := github.NewClient(&http.Client{Transport: rt})
	client.BaseURL = u
	return client, nil
}

// WithToken returns a client authenticating every request with a bearer
// token from ts.
func WithToken(ctx context.Context, ts oauth2.TokenSource, rt http.RoundTripper, baseURL string) (*github.Client, error) {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return New(&oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: rt}, baseURL)
}

// StaticToken wraps a token that never needs refreshing.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: token,
	})
}
