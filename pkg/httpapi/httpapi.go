// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package httpapi holds the request decoding, path validation, error
// mapping and logging shared by the HTTP services.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BodyLimit caps the size of request bodies.
const BodyLimit = 1 << 20

var nameRE = regexp.MustCompile(`^[\w ,.\-]+$`)

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter returns a chi router with request IDs, panic recovery,
// request logging and a /healthz route.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// RequestLogger scopes the context logger to the request and logs its
// outcome.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := clog.FromContext(ctx).With(
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(clog.WithLogger(ctx, logger)))
		logger.Infof("%s %s %d in %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// ReadJSON decodes the request body into T, writing a 400 on failure.
func ReadJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, BodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// NumberParam returns the named path parameter as a positive integer,
// writing a 400 when it is not one.
func NumberParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeMessage(w, http.StatusBadRequest, "Validation failed ("+name+" must be a positive integer)")
		return 0, false
	}
	return n, true
}

// NameParam returns the named path parameter when it only holds word
// characters, spaces, commas, dots and dashes.
func NameParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	if !ValidName(raw) {
		writeMessage(w, http.StatusBadRequest, "Validation failed ("+name+" contains invalid characters)")
		return "", false
	}
	return raw, true
}

// ValidName reports whether s is an acceptable owner, repo or issue key.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		clog.Errorf("failed to write JSON response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorResponse{Error: message})
}

// WriteError maps err to a response. Upstream failures are mirrored with
// their status and body, gRPC statuses use the gateway mapping and
// anything else is a 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var ue *upstream.Error
	if errors.As(err, &ue) {
		clog.FromContext(ctx).Warnf("upstream error: %v", ue)
		if json.Valid(ue.Body) {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(ue.StatusCode)
		w.Write(ue.Body) //nolint:errcheck
		return
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		code := runtime.HTTPStatusFromCode(st.Code())
		if code >= http.StatusInternalServerError {
			clog.FromContext(ctx).Errorf("request failed: %v", err)
		}
		writeMessage(w, code, st.Message())
		return
	}

	clog.FromContext(ctx).Errorf("request failed: %v", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// StatusCode is the HTTP status WriteError uses for err.
func StatusCode(err error) int {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return runtime.HTTPStatusFromCode(st.Code())
	}
	return http.StatusInternalServerError
}

// InvalidArgument is a 400 with message.
func InvalidArgument(message string) error {
	return status.Error(codes.InvalidArgument, message)
}
