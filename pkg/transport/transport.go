// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transport builds the http.RoundTripper used for every outbound
// call to GitHub, Jira and Slack.
package transport

import (
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// UserAgent is sent on every outbound request that does not set its own.
const UserAgent = "github-pr-wrapper"

// Options configures New.
type Options struct {
	// MaxResponseBytes caps the size of every response body. Zero disables
	// the cap.
	MaxResponseBytes int64
	// Limiter throttles outbound requests. Nil disables throttling.
	Limiter *rate.Limiter
}

// New wraps base (http.DefaultTransport when nil) with the configured
// response size cap, rate limit and user agent.
func New(base http.RoundTripper, opts Options) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	if opts.MaxResponseBytes > 0 {
		rt = &maxSize{base: rt, maxBodySize: opts.MaxResponseBytes}
	}
	if opts.Limiter != nil {
		rt = &rateLimited{base: rt, limiter: opts.Limiter}
	}
	return &userAgent{base: rt}
}

type maxSize struct {
	base        http.RoundTripper
	maxBodySize int64
}

// RoundTrip implements http.RoundTripper
func (rt *maxSize) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedBody{
		LimitedReader: io.LimitedReader{
			R: resp.Body,
			N: rt.maxBodySize,
		},
		close: resp.Body.Close,
	}
	return resp, nil
}

type limitedBody struct {
	io.LimitedReader
	close func() error
}

// Close implements io.Closer
func (r *limitedBody) Close() error {
	return r.close()
}

type rateLimited struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// RoundTrip implements http.RoundTripper
func (rt *rateLimited) RoundTrip(req *http.Request) (*http.Response, error) {
	// Wait returns early when the request context is cancelled.
	if err := rt.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return rt.base.RoundTrip(req)
}

type userAgent struct {
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (rt *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return rt.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent)
	return rt.base.RoundTrip(req)
}
