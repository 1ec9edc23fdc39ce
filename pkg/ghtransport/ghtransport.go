// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ghtransport builds the GitHub App transport that signs app JWTs
// from a PEM key, a key file, or a KMS key.
package ghtransport

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/kms"
)

// ErrInvalidPrivateKey is returned when GITHUB_PRIVATE_KEY is not PEM.
var ErrInvalidPrivateKey = errors.New("GITHUB_PRIVATE_KEY is not a PEM encoded key")

// Option configures New.
type Option func(*options)

type options struct {
	signer ghinstallation.Signer
}

// WithSigner uses signer for KMS_KEY instead of creating a KMS client from
// ambient credentials.
func WithSigner(signer ghinstallation.Signer) Option {
	return func(o *options) { o.signer = signer }
}

// New returns an AppsTransport for the configured app. base is the
// transport app-authenticated requests are sent through.
func New(ctx context.Context, env *envconfig.GitHubConfig, base http.RoundTripper, opts ...Option) (*ghinstallation.AppsTransport, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	var (
		atr *ghinstallation.AppsTransport
		err error
	)
	switch {
	case env.AppSecretCertificateEnvVar != "":
		key, kerr := NormalizePEM(env.AppSecretCertificateEnvVar)
		if kerr != nil {
			return nil, kerr
		}
		atr, err = ghinstallation.NewAppsTransport(base, env.AppID, key)

	case env.AppSecretCertificateFile != "":
		atr, err = ghinstallation.NewAppsTransportKeyFromFile(base, env.AppID, env.AppSecretCertificateFile)

	default:
		if env.KMSKey == "" {
			return nil, errors.New("no GitHub App private key configured")
		}
		signer := o.signer
		if signer == nil {
			var serr error
			if signer, serr = kms.NewSigner(ctx, env.KMSProvider, env.KMSKey); serr != nil {
				return nil, fmt.Errorf("error creating signer: %w", serr)
			}
		}
		atr, err = ghinstallation.NewAppsTransportWithOptions(base, env.AppID, ghinstallation.WithSigner(signer))
	}
	if err != nil {
		return nil, fmt.Errorf("error creating GitHub App transport: %w", err)
	}
	atr.BaseURL = strings.TrimSuffix(env.APIURL, "/")
	return atr, nil
}

// NormalizePEM restores newlines in a key that was flattened into a single
// line environment variable and checks that it decodes.
func NormalizePEM(raw string) ([]byte, error) {
	key := []byte(strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n"))
	if block, _ := pem.Decode(key); block == nil {
		return nil, ErrInvalidPrivateKey
	}
	return key, nil
}
