// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghapp performs GitHub App level operations: describing the app,
// listing and resolving its installations, and turning open secret
// scanning alerts into Jira tickets and Slack notifications.
//
// Calls scoped to an installation authenticate with tokens from an
// [installtoken.Provider]. Raw secret values from alerts are masked with
// [MaskSecret] before they leave this package.
package ghapp
