// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package appservice serves the GitHub App and Jira routes.
package appservice

import (
	"context"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghapp"
	"github.com/redbonzai/github-pr-wrapper/pkg/httpapi"
	"github.com/redbonzai/github-pr-wrapper/pkg/installtoken"
)

// IssueDeleter removes Jira issues.
type IssueDeleter interface {
	DeleteIssue(ctx context.Context, key string) error
}

type handlers struct {
	app    *ghapp.App
	issues IssueDeleter
}

// NewHandler returns the appservice routes.
func NewHandler(app *ghapp.App, issues IssueDeleter) http.Handler {
	h := &handlers{app: app, issues: issues}

	r := httpapi.NewRouter()
	r.Route("/octokit", func(r chi.Router) {
		r.Get("/app/info", h.appInfo)
		r.Get("/installations", h.installations)
		r.Get("/installations/{owner}", h.lookupInstallation)
		r.Get("/installation/token/{installationId}", h.installationToken)
		r.Post("/build-request", h.buildRequest)
		r.Post("/alerts/process", h.processAlert)
		r.Delete("/jira-issue/{jirakey}", h.deleteJiraIssue)
	})
	return r
}

func (h *handlers) appInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.AppInfo(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, info)
}

func (h *handlers) installations(w http.ResponseWriter, r *http.Request) {
	installs, err := h.app.Installations(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	if installs == nil {
		installs = []*github.Installation{}
	}
	httpapi.WriteJSON(w, http.StatusOK, installs)
}

func (h *handlers) lookupInstallation(w http.ResponseWriter, r *http.Request) {
	owner, ok := httpapi.NameParam(w, r, "owner")
	if !ok {
		return
	}
	id, err := h.app.LookupInstallation(r.Context(), owner)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, InstallationResponse{Owner: owner, InstallationID: id})
}

func (h *handlers) installationToken(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.NumberParam(w, r, "installationId")
	if !ok {
		return
	}
	tok, err := h.app.Token(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, installtoken.Response{Success: true, Token: tok})
}

func readAlertRequest(w http.ResponseWriter, r *http.Request) (AlertRequest, bool) {
	req, ok := httpapi.ReadJSON[AlertRequest](w, r)
	if !ok {
		return req, false
	}
	if err := req.Validate(); err != nil {
		httpapi.WriteError(w, r, err)
		return req, false
	}
	return req, true
}

func (h *handlers) buildRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := readAlertRequest(w, r)
	if !ok {
		return
	}
	report, err := h.app.AlertReport(r.Context(), req.InstallationID, req.Owner, req.Repo)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, BuildRequestResponse{Request: []*ghapp.Report{report}})
}

func (h *handlers) processAlert(w http.ResponseWriter, r *http.Request) {
	req, ok := readAlertRequest(w, r)
	if !ok {
		return
	}
	result, err := h.app.ProcessAlert(r.Context(), req.InstallationID, req.Owner, req.Repo)
	switch {
	case err != nil && result != nil:
		// Some tickets were filed. Report them with the failures so the
		// caller does not file them again.
		clog.FromContext(r.Context()).Errorf("alert processing for %s/%s incomplete: %v", req.Owner, req.Repo, err)
		httpapi.WriteJSON(w, httpapi.StatusCode(err), result)
		return
	case err != nil:
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) deleteJiraIssue(w http.ResponseWriter, r *http.Request) {
	key, ok := httpapi.NameParam(w, r, "jirakey")
	if !ok {
		return
	}
	if err := h.issues.DeleteIssue(r.Context(), key); err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
