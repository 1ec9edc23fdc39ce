// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{{
		name:     "upstream json",
		err:      fmt.Errorf("wrapped: %w", &upstream.Error{Service: upstream.GitHub, StatusCode: 404, Body: []byte(`{"message":"Not Found"}`)}),
		wantCode: http.StatusNotFound,
		wantBody: `{"message":"Not Found"}`,
	}, {
		name:     "upstream text",
		err:      &upstream.Error{Service: upstream.Jira, StatusCode: 502, Body: []byte("bad gateway")},
		wantCode: http.StatusBadGateway,
		wantBody: "bad gateway",
	}, {
		name:     "failed precondition",
		err:      status.Error(codes.FailedPrecondition, "Not all checks have passed. Failed checks: ci"),
		wantCode: http.StatusBadRequest,
		wantBody: `{"error":"Not all checks have passed. Failed checks: ci"}` + "\n",
	}, {
		name:     "unavailable",
		err:      status.Error(codes.Unavailable, "failed to retrieve pull request statuses"),
		wantCode: http.StatusServiceUnavailable,
		wantBody: `{"error":"failed to retrieve pull request statuses"}` + "\n",
	}, {
		name:     "not found",
		err:      status.Error(codes.NotFound, "no installation"),
		wantCode: http.StatusNotFound,
		wantBody: `{"error":"no installation"}` + "\n",
	}, {
		name:     "plain error",
		err:      errors.New("secret detail"),
		wantCode: http.StatusInternalServerError,
		wantBody: `{"error":"internal server error"}` + "\n",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, tt.wantCode, StatusCode(tt.err))
		})
	}
}

func TestStatusCodeAggregated(t *testing.T) {
	var merr error
	merr = multierror.Append(merr, fmt.Errorf("alert 2: %w", &upstream.Error{Service: upstream.Jira, StatusCode: http.StatusBadRequest}))
	merr = multierror.Append(merr, errors.New("alert 3: timeout"))
	assert.Equal(t, http.StatusBadRequest, StatusCode(merr))
}

func TestParams(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/n/{number}", func(w http.ResponseWriter, r *http.Request) {
		n, ok := NumberParam(w, r, "number")
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, n)
	})
	r.Get("/s/{owner}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := NameParam(w, r, "owner")
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, s)
	})

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/n/12", http.StatusOK},
		{"/n/0", http.StatusBadRequest},
		{"/n/-3", http.StatusBadRequest},
		{"/n/abc", http.StatusBadRequest},
		{"/n/1.5", http.StatusBadRequest},
		{"/s/my-org", http.StatusOK},
		{"/s/my.repo_name", http.StatusOK},
		{"/s/a%20b,c", http.StatusOK},
		{"/s/bad$name", http.StatusBadRequest},
		{"/s/semi;colon", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestReadJSON(t *testing.T) {
	type body struct {
		Owner string `json:"owner"`
	}
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOK   bool
	}{
		{"valid", `{"owner":"org"}`, http.StatusOK, true},
		{"malformed", `{"owner":`, http.StatusBadRequest, false},
		{"too large", `{"owner":"` + strings.Repeat("a", BodyLimit) + `"}`, http.StatusRequestEntityTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			got, ok := ReadJSON[body](rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, rec.Code)
			if ok {
				assert.Equal(t, "org", got.Owner)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
