/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prober

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/installtoken"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"github.com/stretchr/testify/assert"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		tokenCode  int
		token      string
		accept     string
		wantErr    bool
		wantStatus int
	}{{
		name:      "healthy",
		tokenCode: http.StatusOK,
		token:     "ghs_probe",
		accept:    "ghs_probe",
	}, {
		name:       "appservice failing",
		tokenCode:  http.StatusServiceUnavailable,
		wantErr:    true,
		wantStatus: http.StatusServiceUnavailable,
	}, {
		name:      "empty token",
		tokenCode: http.StatusOK,
		wantErr:   true,
	}, {
		name:      "token rejected",
		tokenCode: http.StatusOK,
		token:     "ghs_probe",
		accept:    "ghs_other",
		wantErr:   true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := http.NewServeMux()
			svc.HandleFunc("GET /octokit/installation/token/{id}", func(w http.ResponseWriter, r *http.Request) {
				if r.PathValue("id") != "42" {
					t.Errorf("installation: got = %s, wanted = 42", r.PathValue("id"))
				}
				w.WriteHeader(tt.tokenCode)
				if tt.tokenCode != http.StatusOK {
					fmt.Fprint(w, `{"message":"unavailable"}`)
					return
				}
				json.NewEncoder(w).Encode(installtoken.Response{
					Success: tt.token != "",
					Token:   &installtoken.InstallationToken{Token: tt.token, InstallationID: 42},
				})
			})
			svcsrv := httptest.NewServer(svc)
			defer svcsrv.Close()

			gh := http.NewServeMux()
			authorized := func(w http.ResponseWriter, r *http.Request) bool {
				if tt.accept == "" || r.Header.Get("Authorization") != "Bearer "+tt.accept {
					w.WriteHeader(http.StatusUnauthorized)
					fmt.Fprint(w, `{"message":"Bad credentials"}`)
					return false
				}
				return true
			}
			gh.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
				if !authorized(w, r) {
					return
				}
				json.NewEncoder(w).Encode(github.Repository{FullName: github.Ptr("my-org/probe")})
			})
			gh.HandleFunc("GET /repos/{owner}/{repo}/pulls", func(w http.ResponseWriter, r *http.Request) {
				if !authorized(w, r) {
					return
				}
				json.NewEncoder(w).Encode([]*github.PullRequest{{Number: github.Ptr(1)}})
			})
			ghsrv := httptest.NewServer(gh)
			defer ghsrv.Close()

			probe := New(&envconfig.ProberConfig{
				ServiceURL:     svcsrv.URL + "/",
				GitHubAPIURL:   ghsrv.URL,
				InstallationID: 42,
				Owner:          "my-org",
				Repo:           "probe",
			}, nil)

			err := probe(slogtest.Context(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("probe: got = %v, wantErr = %t", err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				var ue *upstream.Error
				if !errors.As(err, &ue) {
					t.Fatalf("error: got = %T, wanted *upstream.Error", err)
				}
				assert.Equal(t, tt.wantStatus, ue.StatusCode)
			}
		})
	}
}
