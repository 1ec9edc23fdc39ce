// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jira files and removes secret leak tickets in Jira.
package jira

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gojira "github.com/andygrunwald/go-jira"
	"github.com/chainguard-dev/clog"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
)

// IssueType is the type of every ticket this package creates.
const IssueType = "Bug"

// Finding is a detected secret. MaskedSecret must never hold the raw value.
type Finding struct {
	SecretType   string
	MaskedSecret string
	Repository   string
	AlertURL     string
	Author       string
}

// Summary is the ticket title for f.
func (f Finding) Summary() string {
	return fmt.Sprintf("Secret Detected: %s in %s", f.SecretType, f.Repository)
}

// Description is the ticket body for f.
func (f Finding) Description() string {
	return fmt.Sprintf("A secret of type %s was detected in the repository %s.\n\nSecret: %s\n\nAuthor username: %s\nDetails: %s",
		f.SecretType, f.Repository, f.MaskedSecret, f.Author, f.AlertURL)
}

// Ticket identifies a created issue.
type Ticket struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	URL string `json:"url"`
}

// Client talks to the Jira REST API with Basic auth.
type Client struct {
	jira       *gojira.Client
	baseURL    string
	projectKey string
	audit      *audit.Emitter
}

type Option func(*Client)

// WithAudit records deleted issues with em.
func WithAudit(em *audit.Emitter) Option {
	return func(c *Client) { c.audit = em }
}

// New returns a Client for cfg. rt carries the requests and may be nil.
func New(cfg *envconfig.JiraConfig, rt http.RoundTripper, opts ...Option) (*Client, error) {
	tp := gojira.BasicAuthTransport{
		Username:  cfg.Username,
		Password:  cfg.APIToken,
		Transport: rt,
	}
	client, err := gojira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("creating jira client: %w", err)
	}
	c := &Client{
		jira:       client,
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		projectKey: cfg.ProjectKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BrowseURL links to the issue in the Jira UI.
func (c *Client) BrowseURL(key string) string {
	return fmt.Sprintf("%s/browse/%s", c.baseURL, key)
}

// CreateSecretTicket files a ticket describing f.
func (c *Client) CreateSecretTicket(ctx context.Context, f Finding) (*Ticket, error) {
	issue, resp, err := c.jira.Issue.CreateWithContext(ctx, &gojira.Issue{
		Fields: &gojira.IssueFields{
			Project:     gojira.Project{Key: c.projectKey},
			Type:        gojira.IssueType{Name: IssueType},
			Summary:     f.Summary(),
			Description: f.Description(),
		},
	})
	if err != nil {
		return nil, responseError(resp, err)
	}
	clog.FromContext(ctx).Infof("created jira ticket %s for %s", issue.Key, f.Repository)
	return &Ticket{
		ID:  issue.ID,
		Key: issue.Key,
		URL: c.BrowseURL(issue.Key),
	}, nil
}

// DeleteIssue removes the issue with the given ID or key.
func (c *Client) DeleteIssue(ctx context.Context, key string) (err error) {
	defer func() { c.audit.Emit(ctx, audit.Event{Action: audit.ActionJiraDeleted, IssueKey: key}, err) }()

	resp, err := c.jira.Issue.DeleteWithContext(ctx, key)
	if err != nil {
		clog.FromContext(ctx).Errorf("error deleting jira issue %s: %v", key, err)
		return responseError(resp, err)
	}
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
	}
	clog.FromContext(ctx).Infof("deleted jira issue %s", key)
	return nil
}

func responseError(resp *gojira.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	defer resp.Body.Close()
	return upstream.FromResponse(upstream.Jira, resp.Response, err)
}
