// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream carries non-2xx responses from GitHub, Jira and Slack
// back to the HTTP layer with their status code and body intact.
package upstream

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v75/github"
)

// Services that may produce an Error.
const (
	GitHub = "github"
	Jira   = "jira"
	Slack  = "slack"
)

// maxBody bounds how much of an error body is retained.
const maxBody = 64 << 10

// Error is a non-2xx response from an upstream service.
type Error struct {
	Service    string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s: HTTP error! Status: %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: HTTP error! Status: %d, Body: %s", e.Service, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FromResponse builds an Error from resp, consuming its body. It returns err
// unchanged when there is no response to inspect.
func FromResponse(service string, resp *http.Response, err error) error {
	if resp == nil {
		return err
	}
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	}
	return &Error{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       body,
		Err:        err,
	}
}

// FromGitHub converts go-github errors into an Error. go-github has already
// consumed the body, so it is re-encoded from the decoded error message.
func FromGitHub(err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}

	var (
		rle *github.RateLimitError
		are *github.AbuseRateLimitError
		ger *github.ErrorResponse
	)
	switch {
	case errors.As(err, &rle):
		return fromErrorResponse(rle.Response, rle.Message, err)
	case errors.As(err, &are):
		return fromErrorResponse(are.Response, are.Message, err)
	case errors.As(err, &ger):
		return fromErrorResponse(ger.Response, ger.Message, err)
	}
	return err
}

func fromErrorResponse(resp *http.Response, message string, err error) error {
	if resp == nil {
		return err
	}
	return &Error{
		Service:    GitHub,
		StatusCode: resp.StatusCode,
		Body:       []byte(fmt.Sprintf(`{"message":%q}`, message)),
		Err:        err,
	}
}
