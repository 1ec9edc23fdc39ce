// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package prwrapper serves the pull request and Slack routes.
package prwrapper

import (
	"context"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/httpapi"
	"github.com/redbonzai/github-pr-wrapper/pkg/mergegate"
	"github.com/redbonzai/github-pr-wrapper/pkg/pullrequest"
	"github.com/redbonzai/github-pr-wrapper/pkg/slack"
)

// Notifier delivers Slack messages.
type Notifier interface {
	Notify(ctx context.Context, channel, text string) slack.Delivery
}

type handlers struct {
	prs      *pullrequest.Client
	notifier Notifier
}

// NewHandler returns the prwrapper routes.
func NewHandler(prs *pullrequest.Client, notifier Notifier) http.Handler {
	h := &handlers{prs: prs, notifier: notifier}

	r := httpapi.NewRouter()
	r.Route("/github/pull-request", func(r chi.Router) {
		r.Post("/", h.create)
		r.Post("/comment/{number}", h.comment)
		r.Post("/request-changes/{number}", h.requestChanges)
		r.Post("/approve/{number}", h.approve)
		r.Patch("/close/{number}", h.close)
		r.Patch("/{number}/reopen", h.reopen)
		r.Get("/owner/{owner}/repos/{repo}/pulls", h.list)
		r.Get("/statuses/{owner}/{repo}/{number}", h.statuses)
		r.Put("/merge/{number}", h.merge)
	})
	r.Post("/slack/message", h.slackMessage)
	return r
}

func number(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, ok := httpapi.NumberParam(w, r, "number")
	return int(n), ok
}

// readBody decodes and validates a request body.
func readBody[T interface{ Validate() error }](w http.ResponseWriter, r *http.Request) (T, bool) {
	v, ok := httpapi.ReadJSON[T](w, r)
	if !ok {
		return v, false
	}
	if err := v.Validate(); err != nil {
		httpapi.WriteError(w, r, err)
		return v, false
	}
	return v, true
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	req, ok := readBody[pullrequest.NewPullRequest](w, r)
	if !ok {
		return
	}
	pr, err := h.prs.Create(r.Context(), req)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, pr)
}

func (h *handlers) comment(w http.ResponseWriter, r *http.Request) {
	n, ok := number(w, r)
	if !ok {
		return
	}
	req, ok := readBody[CommentRequest](w, r)
	if !ok {
		return
	}
	clog.FromContext(r.Context()).Infof("commenting on %s/%s#%d for %q", req.Owner, req.Repo, n, req.Username)
	ic, err := h.prs.Comment(r.Context(), req.Owner, req.Repo, n, req.Comment, req.UserAccessToken)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, ic)
}

func (h *handlers) requestChanges(w http.ResponseWriter, r *http.Request) {
	n, ok := number(w, r)
	if !ok {
		return
	}
	req, ok := readBody[CommentRequest](w, r)
	if !ok {
		return
	}
	review, err := h.prs.RequestChanges(r.Context(), req.Owner, req.Repo, n, req.Comment, req.UserAccessToken)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, review)
}

func (h *handlers) approve(w http.ResponseWriter, r *http.Request) {
	n, ok := number(w, r)
	if !ok {
		return
	}
	req, ok := readBody[OwnerRepo](w, r)
	if !ok {
		return
	}
	review, err := h.prs.Approve(r.Context(), req.Owner, req.Repo, n)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, review)
}

func (h *handlers) close(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, h.prs.Close)
}

func (h *handlers) reopen(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, h.prs.Reopen)
}

func (h *handlers) setState(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, int) (*github.PullRequest, error)) {
	n, ok := number(w, r)
	if !ok {
		return
	}
	req, ok := readBody[OwnerRepo](w, r)
	if !ok {
		return
	}
	pr, err := op(r.Context(), req.Owner, req.Repo, n)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, pr)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpapi.NameParam(w, r, "owner")
	if !ok {
		return
	}
	repo, ok := httpapi.NameParam(w, r, "repo")
	if !ok {
		return
	}
	prs, err := h.prs.List(r.Context(), owner, repo)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	if prs == nil {
		prs = []*github.PullRequest{}
	}
	httpapi.WriteJSON(w, http.StatusOK, PullRequestsResponse{PullRequests: prs})
}

func (h *handlers) statuses(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpapi.NameParam(w, r, "owner")
	if !ok {
		return
	}
	repo, ok := httpapi.NameParam(w, r, "repo")
	if !ok {
		return
	}
	n, ok := number(w, r)
	if !ok {
		return
	}
	statuses, err := h.prs.Statuses(r.Context(), owner, repo, n)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	if statuses == nil {
		statuses = []mergegate.CommitStatus{}
	}
	httpapi.WriteJSON(w, http.StatusOK, StatusesResponse{Statuses: statuses})
}

func (h *handlers) merge(w http.ResponseWriter, r *http.Request) {
	n, ok := number(w, r)
	if !ok {
		return
	}
	req, ok := readBody[MergeRequest](w, r)
	if !ok {
		return
	}
	result, err := h.prs.Merge(r.Context(), req.Owner, req.Repo, n, req.MergeMethod)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) slackMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := httpapi.ReadJSON[SlackMessage](w, r)
	if !ok {
		return
	}
	h.notifier.Notify(r.Context(), req.Channel, req.Text)
	w.WriteHeader(http.StatusNoContent)
}
