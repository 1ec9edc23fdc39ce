// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-github/v75/github"
)

func TestFromResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{"errorMessages":["Issue does not exist"]}`)),
	}
	cause := errors.New("request failed")

	err := FromResponse(Jira, resp, cause)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("FromResponse() = %T, wanted *Error", err)
	}
	if ue.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, wanted %d", ue.StatusCode, http.StatusNotFound)
	}
	if got, want := string(ue.Body), `{"errorMessages":["Issue does not exist"]}`; got != want {
		t.Errorf("Body = %s, wanted %s", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("FromResponse() does not wrap the cause")
	}
	if !strings.Contains(err.Error(), "Status: 404") {
		t.Errorf("Error() = %q, wanted status code", err.Error())
	}
}

func TestFromResponseNil(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	if got := FromResponse(Slack, nil, cause); got != cause {
		t.Errorf("FromResponse(nil) = %v, wanted %v", got, cause)
	}
}

func TestFromGitHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"message":"Validation Failed"}`)
	}))
	defer srv.Close()

	client := github.NewClient(srv.Client())
	client.BaseURL, _ = url.Parse(srv.URL + "/")

	_, _, err := client.PullRequests.Create(context.Background(), "foo", "bar", &github.NewPullRequest{})
	err = FromGitHub(err)

	var ue *Error
	if !errors.As(err, &ue) {
		t.Fatalf("FromGitHub() = %T, wanted *Error", err)
	}
	if ue.Service != GitHub {
		t.Errorf("Service = %q, wanted %q", ue.Service, GitHub)
	}
	if ue.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, wanted %d", ue.StatusCode, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(string(ue.Body), "Validation Failed") {
		t.Errorf("Body = %s, wanted upstream message", ue.Body)
	}
}

func TestFromGitHubPassthrough(t *testing.T) {
	if err := FromGitHub(nil); err != nil {
		t.Errorf("FromGitHub(nil) = %v", err)
	}
	cause := errors.New("boom")
	if got := FromGitHub(cause); got != cause {
		t.Errorf("FromGitHub() = %v, wanted %v", got, cause)
	}
}
