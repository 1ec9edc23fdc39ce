// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit records state changing operations as CloudEvents.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/protocol"
)

const (
	retryDelay = 10 * time.Millisecond
	maxRetry   = 3

	// Source is the CloudEvents source of every emitted event.
	Source = "https://github.com/redbonzai/github-pr-wrapper"
)

// Actions recorded by the services.
const (
	ActionTokenIssued  = "token.issued"
	ActionPRCreated    = "pullrequest.created"
	ActionPRCommented  = "pullrequest.commented"
	ActionPRReviewed   = "pullrequest.reviewed"
	ActionPRClosed     = "pullrequest.closed"
	ActionPRReopened   = "pullrequest.reopened"
	ActionPRMerged     = "pullrequest.merged"
	ActionSecretTicket = "jira.ticket.created"
	ActionJiraDeleted  = "jira.issue.deleted"
)

type Event struct {
	Action         string `json:"action"`
	Owner          string `json:"owner,omitempty"`
	Repo           string `json:"repo,omitempty"`
	Number         int    `json:"number,omitempty"`
	InstallationID int64  `json:"installation_id,omitempty"`
	TokenSHA256    string `json:"token_sha256,omitempty"`
	IssueKey       string `json:"issue_key,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (e Event) subject() string {
	switch {
	case e.Owner != "" && e.Number > 0:
		return fmt.Sprintf("%s/%s#%d", e.Owner, e.Repo, e.Number)
	case e.Owner != "":
		return fmt.Sprintf("%s/%s", e.Owner, e.Repo)
	case e.IssueKey != "":
		return e.IssueKey
	case e.InstallationID != 0:
		return fmt.Sprintf("installation/%d", e.InstallationID)
	}
	return e.Action
}

// Emitter sends audit events. The zero value discards them.
type Emitter struct {
	client cloudevents.Client
}

// New returns an Emitter delivering through client. A nil client discards
// every event.
func New(client cloudevents.Client) *Emitter {
	if client == nil {
		client = nopClient{}
	}
	return &Emitter{client: client}
}

// Emit delivers e, recording err when it is non-nil. Delivery survives
// cancellation of ctx and failures are only logged.
func (em *Emitter) Emit(ctx context.Context, e Event, err error) {
	if em == nil || em.client == nil {
		return
	}
	if err != nil {
		e.Error = err.Error()
	}
	event := cloudevents.NewEvent()
	event.SetType("dev.github-pr-wrapper." + e.Action)
	event.SetSubject(e.subject())
	event.SetSource(Source)
	if err := event.SetData(cloudevents.ApplicationJSON, e); err != nil {
		clog.FromContext(ctx).Infof("Failed to encode event payload: %v", err)
		return
	}
	rctx := cloudevents.ContextWithRetriesExponentialBackoff(context.WithoutCancel(ctx), retryDelay, maxRetry)
	if ceresult := em.client.Send(rctx, event); cloudevents.IsUndelivered(ceresult) || cloudevents.IsNACK(ceresult) {
		clog.FromContext(ctx).Errorf("Failed to deliver event: %v", ceresult)
	}
}

// TokenDigest identifies a token in audit records without revealing it.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type nopClient struct{}

func (nopClient) Send(context.Context, event.Event) protocol.Result {
	return nil
}

func (nopClient) Request(context.Context, event.Event) (*event.Event, protocol.Result) {
	return nil, nil
}

func (nopClient) StartReceiver(context.Context, interface{}) error {
	return nil
}
