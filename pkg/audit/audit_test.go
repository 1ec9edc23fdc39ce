// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/google/go-cmp/cmp"
)

type recordingClient struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *recordingClient) Send(_ context.Context, e event.Event) protocol.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *recordingClient) Request(context.Context, event.Event) (*event.Event, protocol.Result) {
	return nil, nil
}

func (c *recordingClient) StartReceiver(context.Context, interface{}) error {
	return nil
}

func TestEmit(t *testing.T) {
	tests := []struct {
		name        string
		event       Event
		err         error
		wantType    string
		wantSubject string
		wantData    Event
	}{{
		name:        "pull request",
		event:       Event{Action: ActionPRMerged, Owner: "org", Repo: "repo", Number: 7},
		wantType:    "dev.github-pr-wrapper.pullrequest.merged",
		wantSubject: "org/repo#7",
		wantData:    Event{Action: ActionPRMerged, Owner: "org", Repo: "repo", Number: 7},
	}, {
		name:        "token with error",
		event:       Event{Action: ActionTokenIssued, InstallationID: 42},
		err:         errors.New("boom"),
		wantType:    "dev.github-pr-wrapper.token.issued",
		wantSubject: "installation/42",
		wantData:    Event{Action: ActionTokenIssued, InstallationID: 42, Error: "boom"},
	}, {
		name:        "jira issue",
		event:       Event{Action: ActionJiraDeleted, IssueKey: "SEC-1"},
		wantType:    "dev.github-pr-wrapper.jira.issue.deleted",
		wantSubject: "SEC-1",
		wantData:    Event{Action: ActionJiraDeleted, IssueKey: "SEC-1"},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &recordingClient{}
			New(client).Emit(context.Background(), tt.event, tt.err)

			if len(client.events) != 1 {
				t.Fatalf("events: got = %d, wanted = 1", len(client.events))
			}
			got := client.events[0]
			if got.Type() != tt.wantType {
				t.Errorf("type: got = %q, wanted = %q", got.Type(), tt.wantType)
			}
			if got.Subject() != tt.wantSubject {
				t.Errorf("subject: got = %q, wanted = %q", got.Subject(), tt.wantSubject)
			}
			var data Event
			if err := got.DataAs(&data); err != nil {
				t.Fatalf("DataAs() = %v", err)
			}
			if diff := cmp.Diff(tt.wantData, data); diff != "" {
				t.Errorf("data (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmitCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &recordingClient{}
	New(client).Emit(ctx, Event{Action: ActionPRClosed, Owner: "o", Repo: "r", Number: 1}, nil)
	if len(client.events) != 1 {
		t.Errorf("events: got = %d, wanted = 1", len(client.events))
	}
}

func TestNilEmitter(t *testing.T) {
	var em *Emitter
	em.Emit(context.Background(), Event{Action: ActionPRCreated}, nil)
	New(nil).Emit(context.Background(), Event{Action: ActionPRCreated}, nil)
}

func TestTokenDigest(t *testing.T) {
	got := TokenDigest("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("TokenDigest() = %s, wanted %s", got, want)
	}
	if TokenDigest("abc") == TokenDigest("abd") {
		t.Error("distinct tokens share a digest")
	}
}
