// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/hashicorp/go-multierror"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	"github.com/redbonzai/github-pr-wrapper/pkg/jira"
	"github.com/redbonzai/github-pr-wrapper/pkg/slack"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// recentCommits is how many commits are inspected to attribute an alert.
const recentCommits = 3

// Report summarizes the secret scanning state of a repository.
type Report struct {
	Alerts       []*github.SecretScanningAlert `json:"alert"`
	Repositories []*github.Repository          `json:"repository"`
	Organization *github.Organization          `json:"organization"`
}

// ProcessedAlert is the outcome of handling one open alert.
type ProcessedAlert struct {
	Number     int            `json:"number"`
	SecretType string         `json:"secretType"`
	Ticket     *jira.Ticket   `json:"ticket"`
	Slack      slack.Delivery `json:"slack"`
	// Error is set when no ticket could be filed. No notification is sent
	// for such an alert.
	Error string `json:"error,omitempty"`
}

// ProcessResult is returned by ProcessAlert.
type ProcessResult struct {
	Author  string                     `json:"author"`
	Commits []*github.RepositoryCommit `json:"commits"`
	Alerts  []ProcessedAlert           `json:"alerts"`
}

// MaskSecret hides all but a short prefix of secret.
func MaskSecret(secret string) string {
	const visible = 4
	if len(secret) < 3*visible {
		return "********"
	}
	return secret[:visible] + strings.Repeat("*", 8)
}

// AlertReport gathers the open alerts of owner/repo, the repositories of
// the installation and the organization.
func (a *App) AlertReport(ctx context.Context, installationID int64, owner, repo string) (*Report, error) {
	client, err := a.installation(ctx, installationID)
	if err != nil {
		return nil, err
	}

	alerts, err := openAlerts(ctx, client, owner, repo)
	if err != nil {
		return nil, err
	}
	for _, alert := range alerts {
		alert.Secret = github.Ptr(MaskSecret(alert.GetSecret()))
	}

	var repos []*github.Repository
	opts := &github.ListOptions{PerPage: 100}
	for {
		list, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, upstream.FromGitHub(err)
		}
		repos = append(repos, list.Repositories...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	org, _, err := client.Organizations.Get(ctx, owner)
	if err != nil {
		clog.FromContext(ctx).Errorf("error fetching organization info for %s: %v", owner, err)
		return nil, upstream.FromGitHub(err)
	}

	return &Report{
		Alerts:       alerts,
		Repositories: repos,
		Organization: org,
	}, nil
}

func openAlerts(ctx context.Context, client *github.Client, owner, repo string) ([]*github.SecretScanningAlert, error) {
	var all []*github.SecretScanningAlert
	opts := &github.SecretScanningAlertListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		alerts, resp, err := client.SecretScanning.ListAlertsForRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, upstream.FromGitHub(err)
		}
		all = append(all, alerts...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

// ProcessAlert files a Jira ticket and sends a Slack notification for
// every open alert of owner/repo. Ticket failures do not stop the remaining
// alerts: they are recorded on their alert and returned together, alongside
// the result describing every alert handled. A Slack failure is recorded in
// the result only.
func (a *App) ProcessAlert(ctx context.Context, installationID int64, owner, repo string) (*ProcessResult, error) {
	if a.tickets == nil {
		return nil, status.Error(codes.FailedPrecondition, "jira is not configured")
	}
	client, err := a.installation(ctx, installationID)
	if err != nil {
		return nil, err
	}

	alerts, err := openAlerts(ctx, client, owner, repo)
	if err != nil {
		return nil, err
	}

	commits, _, err := client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: recentCommits},
	})
	if err != nil {
		clog.FromContext(ctx).Errorf("error fetching commits for %s/%s: %v", owner, repo, err)
		return nil, upstream.FromGitHub(err)
	}
	result := &ProcessResult{
		Author:  latestAuthor(commits),
		Commits: commits,
		Alerts:  make([]ProcessedAlert, 0, len(alerts)),
	}

	var merr error
	for _, alert := range alerts {
		fullName := alert.GetRepository().GetFullName()
		if fullName == "" {
			fullName = owner + "/" + repo
		}
		finding := jira.Finding{
			SecretType:   alert.GetSecretType(),
			MaskedSecret: MaskSecret(alert.GetSecret()),
			Repository:   fullName,
			AlertURL:     alert.GetHTMLURL(),
			Author:       result.Author,
		}
		clog.FromContext(ctx).Infof("secret of type %s detected in repository %s", finding.SecretType, fullName)

		ticket, err := a.tickets.CreateSecretTicket(ctx, finding)
		a.audit.Emit(ctx, audit.Event{
			Action:         audit.ActionSecretTicket,
			Owner:          owner,
			Repo:           repo,
			InstallationID: installationID,
			IssueKey:       ticketKey(ticket),
		}, err)
		processed := ProcessedAlert{
			Number:     alert.GetNumber(),
			SecretType: finding.SecretType,
			Ticket:     ticket,
		}
		if err != nil {
			clog.FromContext(ctx).Errorf("error filing ticket for alert %d of %s: %v", processed.Number, fullName, err)
			processed.Error = err.Error()
			result.Alerts = append(result.Alerts, processed)
			merr = multierror.Append(merr, fmt.Errorf("alert %d: %w", processed.Number, err))
			continue
		}
		if a.notifier != nil {
			processed.Slack = a.notifier.Notify(ctx, "", slackMessage(finding, ticket))
		}
		result.Alerts = append(result.Alerts, processed)
	}
	return result, merr
}

func latestAuthor(commits []*github.RepositoryCommit) string {
	if len(commits) == 0 {
		return ""
	}
	if login := commits[0].GetAuthor().GetLogin(); login != "" {
		return login
	}
	return commits[0].GetCommit().GetAuthor().GetName()
}

func ticketKey(t *jira.Ticket) string {
	if t == nil {
		return ""
	}
	return t.Key
}

func slackMessage(f jira.Finding, t *jira.Ticket) string {
	return fmt.Sprintf(":warning: *SECRET DETECTED*\n\nAuthor: %s\n\n"+
		"A secret of type *%s* was detected in the repository *%s*.\n\n"+
		"*Secret*: `%s`\n\n"+
		"*A Jira Ticket was created*: <%s|%s>\n\n"+
		"*Details*: <%s|View it on GitHub>",
		f.Author, f.SecretType, f.Repository, f.MaskedSecret, t.URL, t.Key, f.AlertURL)
}
