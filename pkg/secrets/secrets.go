// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves credential references against a cloud secret
// manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcpSM "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsSM "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretProvider interface {
	GetSecret(ctx context.Context, keyID string) ([]byte, error)
}

const (
	AWS = "aws"
	GCP = "gcp"
)

type gcpProvider struct {
	client *gcpSM.Client
}

// NewGCP returns a SecretProvider reading secret versions such as
// projects/p/secrets/s/versions/latest.
func NewGCP(client *gcpSM.Client) SecretProvider {
	return &gcpProvider{client: client}
}

func (p *gcpProvider) GetSecret(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching secret %s: %w", keyID, err)
	}
	return resp.GetPayload().GetData(), nil
}

type awsProvider struct {
	client *awsSM.Client
}

// NewAWS returns a SecretProvider reading secrets by name or ARN.
func NewAWS(client *awsSM.Client) SecretProvider {
	return &awsProvider{client: client}
}

func (p *awsProvider) GetSecret(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := p.client.GetSecretValue(ctx, &awsSM.GetSecretValueInput{SecretId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("error fetching secret %s: %w", keyID, err)
	}
	// Depending on how the secret was stored, it can be either a string or binary.
	if resp.SecretString != nil {
		return []byte(*resp.SecretString), nil
	}
	return resp.SecretBinary, nil
}

// NewSecretProvider creates a client for provider using ambient credentials.
func NewSecretProvider(ctx context.Context, provider string) (SecretProvider, error) {
	switch strings.ToLower(provider) {
	case AWS:
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return NewAWS(awsSM.NewFromConfig(awsConfig)), nil
	case GCP:
		client, err := gcpSM.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCP(client), nil
	default:
		return nil, errors.New("unsupported secret provider")
	}
}

// Resolve replaces every non-empty field with the secret it references.
// Empty fields are left alone so optional credentials stay optional.
func Resolve(ctx context.Context, sp SecretProvider, fields ...*string) error {
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		data, err := sp.GetSecret(ctx, *f)
		if err != nil {
			return err
		}
		*f = string(data)
	}
	return nil
}
