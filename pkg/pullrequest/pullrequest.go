// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pullrequest wraps the GitHub pull request API. Merges are only
// attempted once every commit status on the head commit has succeeded.
package pullrequest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghclient"
	"github.com/redbonzai/github-pr-wrapper/pkg/mergegate"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	StateOpen   = "open"
	StateClosed = "closed"

	// DefaultMergeMethod is used when a merge does not name one.
	DefaultMergeMethod = "merge"
)

var mergeMethods = sets.New("merge", "squash", "rebase")

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	// Owner is the account owning the repository.
	Owner string `json:"owner"`
	// Repo is the repository name.
	Repo string `json:"repo"`
	// Head is the branch holding the changes.
	Head string `json:"head"`
	// Base is the branch the changes are merged into.
	Base  string `json:"base"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Validate requires every field.
func (n NewPullRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"owner", n.Owner}, {"repo", n.Repo}, {"head", n.Head},
		{"base", n.Base}, {"title", n.Title}, {"body", n.Body},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return status.Errorf(codes.InvalidArgument, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Option func(*Client)

// WithAudit records every mutation with em.
func WithAudit(em *audit.Emitter) Option {
	return func(c *Client) { c.audit = em }
}

// WithUserTransport sets the transport used for requests made with a
// caller supplied user access token.
func WithUserTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.userTransport = rt }
}

// Client performs pull request operations.
type Client struct {
	gh            *github.Client
	userTransport http.RoundTripper
	audit         *audit.Emitter
}

// New returns a Client that authenticates through gh unless a call
// supplies a user access token.
func New(gh *github.Client, opts ...Option) *Client {
	c := &Client{gh: gh}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// as returns the client acting for userToken, or the service client when
// no user token is supplied.
func (c *Client) as(ctx context.Context, userToken string) (*github.Client, error) {
	if userToken == "" {
		return c.gh, nil
	}
	return ghclient.WithToken(ctx, ghclient.StaticToken(userToken), c.userTransport, c.gh.BaseURL.String())
}

func (c *Client) record(ctx context.Context, action, owner, repo string, number int, err error) {
	c.audit.Emit(ctx, audit.Event{Action: action, Owner: owner, Repo: repo, Number: number}, err)
}

// Create opens a pull request.
func (c *Client) Create(ctx context.Context, n NewPullRequest) (_ *github.PullRequest, err error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	pr, _, err := c.gh.PullRequests.Create(ctx, n.Owner, n.Repo, &github.NewPullRequest{
		Title: github.Ptr(n.Title),
		Head:  github.Ptr(n.Head),
		Base:  github.Ptr(n.Base),
		Body:  github.Ptr(n.Body),
	})
	defer func() { c.record(ctx, audit.ActionPRCreated, n.Owner, n.Repo, pr.GetNumber(), err) }()
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	clog.FromContext(ctx).Infof("created pull request %s/%s#%d", n.Owner, n.Repo, pr.GetNumber())
	return pr, nil
}

// Comment adds an issue comment to a pull request, as the user owning
// userToken when it is set.
func (c *Client) Comment(ctx context.Context, owner, repo string, number int, comment, userToken string) (_ *github.IssueComment, err error) {
	defer func() { c.record(ctx, audit.ActionPRCommented, owner, repo, number, err) }()
	gh, err := c.as(ctx, userToken)
	if err != nil {
		return nil, err
	}
	ic, _, err := gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(comment),
	})
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	return ic, nil
}

// RequestChanges submits a REQUEST_CHANGES review, as the user owning
// userToken when it is set.
func (c *Client) RequestChanges(ctx context.Context, owner, repo string, number int, comment, userToken string) (_ *github.PullRequestReview, err error) {
	defer func() { c.record(ctx, audit.ActionPRReviewed, owner, repo, number, err) }()
	gh, err := c.as(ctx, userToken)
	if err != nil {
		return nil, err
	}
	return c.review(ctx, gh, owner, repo, number, "REQUEST_CHANGES", comment)
}

// Approve submits an APPROVE review.
func (c *Client) Approve(ctx context.Context, owner, repo string, number int) (_ *github.PullRequestReview, err error) {
	defer func() { c.record(ctx, audit.ActionPRReviewed, owner, repo, number, err) }()
	return c.review(ctx, c.gh, owner, repo, number, "APPROVE", "")
}

func (c *Client) review(ctx context.Context, gh *github.Client, owner, repo string, number int, event, body string) (*github.PullRequestReview, error) {
	req := &github.PullRequestReviewRequest{Event: github.Ptr(event)}
	if body != "" {
		req.Body = github.Ptr(body)
	}
	review, _, err := gh.PullRequests.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	return review, nil
}

// Close closes a pull request without merging it.
func (c *Client) Close(ctx context.Context, owner, repo string, number int) (_ *github.PullRequest, err error) {
	defer func() { c.record(ctx, audit.ActionPRClosed, owner, repo, number, err) }()
	return c.setState(ctx, owner, repo, number, StateClosed)
}

// Reopen reopens a closed pull request.
func (c *Client) Reopen(ctx context.Context, owner, repo string, number int) (_ *github.PullRequest, err error) {
	defer func() { c.record(ctx, audit.ActionPRReopened, owner, repo, number, err) }()
	return c.setState(ctx, owner, repo, number, StateOpen)
}

func (c *Client) setState(ctx context.Context, owner, repo string, number int, state string) (*github.PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		State: github.Ptr(state),
	})
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	clog.FromContext(ctx).Infof("set %s/%s#%d to %s", owner, repo, number, state)
	return pr, nil
}

// List returns every open pull request of a repository.
func (c *Client) List(ctx context.Context, owner, repo string) ([]*github.PullRequest, error) {
	var all []*github.PullRequest
	opts := &github.PullRequestListOptions{
		State:       StateOpen,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, upstream.FromGitHub(err)
		}
		all = append(all, prs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// Statuses returns the commit statuses of the pull request's head commit.
func (c *Client) Statuses(ctx context.Context, owner, repo string, number int) ([]mergegate.CommitStatus, error) {
	_, statuses, err := c.headStatuses(ctx, owner, repo, number)
	return statuses, err
}

func (c *Client) headStatuses(ctx context.Context, owner, repo string, number int) (string, []mergegate.CommitStatus, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", nil, upstream.FromGitHub(err)
	}
	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return "", nil, fmt.Errorf("pull request %s/%s#%d has no head commit", owner, repo, number)
	}

	var statuses []mergegate.CommitStatus
	opts := &github.ListOptions{PerPage: 100}
	for {
		combined, resp, err := c.gh.Repositories.GetCombinedStatus(ctx, owner, repo, sha, opts)
		if err != nil {
			return "", nil, upstream.FromGitHub(err)
		}
		for _, s := range combined.Statuses {
			statuses = append(statuses, mergegate.CommitStatus{
				State:   s.GetState(),
				Context: s.GetContext(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return sha, statuses, nil
}

// Merge merges a pull request once all of its checks pass. An empty
// method uses DefaultMergeMethod.
func (c *Client) Merge(ctx context.Context, owner, repo string, number int, method string) (_ *github.PullRequestMergeResult, err error) {
	if method == "" {
		method = DefaultMergeMethod
	}
	if !mergeMethods.Has(method) {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported merge method %q, expected one of %s", method, strings.Join(sets.List(mergeMethods), ", "))
	}
	defer func() { c.record(ctx, audit.ActionPRMerged, owner, repo, number, err) }()

	sha, statuses, err := c.headStatuses(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	if _, err := mergegate.Evaluate(statuses); err != nil {
		var blocked *mergegate.BlockedError
		switch {
		case errors.As(err, &blocked):
			clog.FromContext(ctx).Warnf("refusing to merge %s/%s#%d: %v", owner, repo, number, blocked)
			return nil, status.Error(codes.FailedPrecondition, blocked.Error())
		case errors.Is(err, mergegate.ErrStatusesUnavailable):
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, err
	}

	result, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		CommitTitle: fmt.Sprintf("Merging PR #%d", number),
		SHA:         sha,
		MergeMethod: method,
	})
	if err != nil {
		return nil, upstream.FromGitHub(err)
	}
	clog.FromContext(ctx).Infof("merged %s/%s#%d with %s", owner, repo, number, method)
	return result, nil
}
