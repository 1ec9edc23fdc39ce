/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prober checks that appservice issues installation tokens that
// GitHub accepts.
package prober

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghclient"
	"github.com/redbonzai/github-pr-wrapper/pkg/installtoken"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
)

// New returns a probe that fetches an installation token from appservice
// and uses it to read back the probe repository and its open pull requests.
func New(cfg *envconfig.ProberConfig, rt http.RoundTripper) func(context.Context) error {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return func(ctx context.Context) error {
		token, err := fetchToken(ctx, cfg, rt)
		if err != nil {
			return fmt.Errorf("failed to fetch installation token: %w", err)
		}

		ghc, err := ghclient.WithToken(ctx, ghclient.StaticToken(token), rt, cfg.GitHubAPIURL)
		if err != nil {
			return err
		}

		// Check the `metadata: read` permission.
		if _, _, err := ghc.Repositories.Get(ctx, cfg.Owner, cfg.Repo); err != nil {
			return fmt.Errorf("failed to read probe repository: %w", err)
		}

		// Check the `pull_requests: read` permission.
		prs, _, err := ghc.PullRequests.List(ctx, cfg.Owner, cfg.Repo, &github.PullRequestListOptions{
			State:       "open",
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			return fmt.Errorf("failed to list pull requests: %w", err)
		}
		clog.FromContext(ctx).Infof("probe of %s/%s succeeded (%d open pull requests sampled)", cfg.Owner, cfg.Repo, len(prs))
		return nil
	}
}

func fetchToken(ctx context.Context, cfg *envconfig.ProberConfig, rt http.RoundTripper) (string, error) {
	url := fmt.Sprintf("%s/octokit/installation/token/%d", strings.TrimSuffix(cfg.ServiceURL, "/"), cfg.InstallationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := (&http.Client{Transport: rt}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstream.FromResponse("appservice", resp, nil)
	}

	var body installtoken.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if !body.Success || body.Token == nil || body.Token.Token == "" {
		return "", errors.New("appservice returned no token")
	}
	return body.Token.Token, nil
}
