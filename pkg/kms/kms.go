// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package kms signs GitHub App JWTs with a key held in a cloud KMS so the
// App private key never has to be present in the process environment.
package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	kmsGCP "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	kmsAWS "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	AWS = "aws"
	GCP = "gcp"
)

// signFunc returns the raw RS256 signature of data made with key.
type signFunc func(ctx context.Context, key string, data []byte) ([]byte, error)

type signingMethod struct {
	ctx  context.Context
	sign signFunc
}

func (m *signingMethod) Verify(string, string, interface{}) error {
	return errors.New("not implemented")
}

func (m *signingMethod) Sign(signingString string, ikey interface{}) (string, error) {
	key, ok := ikey.(string)
	if !ok {
		return "", fmt.Errorf("invalid key reference type: %T", ikey)
	}
	sig, err := m.sign(m.ctx, key, []byte(signingString))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func (m *signingMethod) Alg() string {
	return "RS256"
}

type signer struct {
	ctx  context.Context
	key  string
	sign signFunc
}

// Sign implements ghinstallation.Signer.
func (s *signer) Sign(claims jwt.Claims) (string, error) {
	method := &signingMethod{
		ctx:  s.ctx,
		sign: s.sign,
	}
	return jwt.NewWithClaims(method, claims).SignedString(s.key)
}

// NewGCPSigner signs with the Cloud KMS asymmetric key version named key.
func NewGCPSigner(ctx context.Context, client *kmsGCP.KeyManagementClient, key string) ghinstallation.Signer {
	return &signer{
		ctx: ctx,
		key: key,
		sign: func(ctx context.Context, key string, data []byte) ([]byte, error) {
			resp, err := client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
				Name: key,
				Data: data,
			})
			if err != nil {
				return nil, err
			}
			return resp.Signature, nil
		},
	}
}

// NewAWSSigner signs with the AWS KMS key identified by key.
func NewAWSSigner(ctx context.Context, client *kmsAWS.Client, key string) ghinstallation.Signer {
	return &signer{
		ctx: ctx,
		key: key,
		sign: func(ctx context.Context, key string, data []byte) ([]byte, error) {
			resp, err := client.Sign(ctx, &kmsAWS.SignInput{
				KeyId:            aws.String(key),
				Message:          data,
				MessageType:      types.MessageTypeRaw,
				SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
			})
			if err != nil {
				return nil, err
			}
			return resp.Signature, nil
		},
	}
}

// NewSigner creates a KMS client for provider using ambient credentials and
// returns a signer for key.
func NewSigner(ctx context.Context, provider, key string) (ghinstallation.Signer, error) {
	switch strings.ToLower(provider) {
	case GCP:
		client, err := kmsGCP.NewKeyManagementClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating gcp kms client: %w", err)
		}
		return NewGCPSigner(ctx, client, key), nil
	case AWS:
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return NewAWSSigner(ctx, kmsAWS.NewFromConfig(awsConfig), key), nil
	default:
		return nil, errors.New("unsupported kms provider")
	}
}
