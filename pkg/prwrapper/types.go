// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package prwrapper

import (
	"strings"

	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/httpapi"
	"github.com/redbonzai/github-pr-wrapper/pkg/mergegate"
)

// OwnerRepo names the repository a pull request belongs to.
type OwnerRepo struct {
	// Owner is the account owning the repository.
	Owner string `json:"owner"`
	// Repo is the repository name.
	Repo string `json:"repo"`
}

// Validate requires a well formed owner and repo.
func (o OwnerRepo) Validate() error {
	if !httpapi.ValidName(o.Owner) || !httpapi.ValidName(o.Repo) {
		return httpapi.InvalidArgument("owner and repo are required and may only contain letters, digits, spaces and , . _ -")
	}
	return nil
}

// CommentRequest is the body of the comment and request-changes routes.
type CommentRequest struct {
	OwnerRepo
	// Comment is the text to post.
	Comment string `json:"comment"`
	// Username identifies the user the comment is posted for.
	Username string `json:"username,omitempty"`
	// UserAccessToken, when set, posts the comment as that user instead of
	// the app.
	UserAccessToken string `json:"userAccessToken,omitempty"`
}

// Validate requires a repository and a comment.
func (c CommentRequest) Validate() error {
	if err := c.OwnerRepo.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Comment) == "" {
		return httpapi.InvalidArgument("comment is required")
	}
	return nil
}

// MergeRequest is the body of the merge route.
type MergeRequest struct {
	OwnerRepo
	// MergeMethod is one of merge, squash or rebase. Defaults to merge.
	MergeMethod string `json:"merge_method,omitempty"`
}

// SlackMessage is the body of the Slack route.
type SlackMessage struct {
	// Channel is the Slack channel ID. Defaults to the configured channel.
	Channel string `json:"channel,omitempty"`
	// Text is the message body.
	Text string `json:"text"`
}

// PullRequestsResponse lists open pull requests.
type PullRequestsResponse struct {
	PullRequests []*github.PullRequest `json:"pullRequests"`
}

// StatusesResponse lists the commit statuses of a pull request head.
type StatusesResponse struct {
	Statuses []mergegate.CommitStatus `json:"statuses"`
}
