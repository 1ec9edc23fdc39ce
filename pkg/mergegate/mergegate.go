// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mergegate decides whether a pull request may be merged based on
// the commit statuses reported for its head commit.
package mergegate

import (
	"errors"
	"fmt"
	"strings"
)

// States reported by the GitHub commit status API.
const (
	StateSuccess = "success"
	StatePending = "pending"
	StateFailure = "failure"
	StateError   = "error"
)

// ErrStatusesUnavailable is returned when no statuses could be retrieved.
// A pull request without statuses is never considered mergeable.
var ErrStatusesUnavailable = errors.New("failed to retrieve pull request statuses")

// CommitStatus is a single status check result.
type CommitStatus struct {
	State   string `json:"state"`
	Context string `json:"context"`
}

// Result is the outcome of evaluating a set of statuses.
type Result struct {
	Mergeable bool     `json:"mergeable"`
	Failing   []string `json:"failing,omitempty"`
}

// BlockedError reports the checks that prevent a merge.
type BlockedError struct {
	Failing []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("Not all checks have passed. Failed checks: %s", strings.Join(e.Failing, ", "))
}

// Evaluate returns a mergeable Result when every status is successful.
// Otherwise it returns the failing contexts, in input order, along with a
// *BlockedError.
func Evaluate(statuses []CommitStatus) (Result, error) {
	if len(statuses) == 0 {
		return Result{}, ErrStatusesUnavailable
	}

	var failing []string
	for _, s := range statuses {
		if s.State != StateSuccess {
			failing = append(failing, s.Context)
		}
	}
	if len(failing) > 0 {
		return Result{Failing: failing}, &BlockedError{Failing: failing}
	}
	return Result{Mergeable: true}, nil
}
