// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package appservice

import (
	"github.com/redbonzai/github-pr-wrapper/pkg/ghapp"
	"github.com/redbonzai/github-pr-wrapper/pkg/httpapi"
)

// AlertRequest selects the repository whose secret scanning alerts are
// inspected.
type AlertRequest struct {
	// InstallationID is the app installation with access to the repository.
	InstallationID int64 `json:"installationId"`
	// Owner is the account owning the repository.
	Owner string `json:"owner"`
	// Repo is the repository name.
	Repo string `json:"repo"`
}

// Validate requires a positive installation and a well formed repository.
func (a AlertRequest) Validate() error {
	if a.InstallationID <= 0 {
		return httpapi.InvalidArgument("installationId must be a positive integer")
	}
	if !httpapi.ValidName(a.Owner) || !httpapi.ValidName(a.Repo) {
		return httpapi.InvalidArgument("owner and repo are required and may only contain letters, digits, spaces and , . _ -")
	}
	return nil
}

// BuildRequestResponse carries the alert report.
type BuildRequestResponse struct {
	Request []*ghapp.Report `json:"request"`
}

// InstallationResponse resolves an owner to its installation.
type InstallationResponse struct {
	Owner          string `json:"owner"`
	InstallationID int64  `json:"installationId"`
}
