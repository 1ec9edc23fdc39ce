// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package ghtransport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"strings"
	"testing"

	kmsGCP "cloud.google.com/go/kms/apiv1"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/kms"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestGCPKMS(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.GitHubConfig{
		APIURL:      "https://api.github.com",
		AppID:       123456,
		KMSKey:      "test-kms-key",
		KMSProvider: "gcp",
	}

	signer := kms.NewGCPSigner(ctx, generateKMSClient(ctx, t), testConfig.KMSKey)
	transport, err := New(ctx, testConfig, nil, WithSigner(signer))

	assert.NoError(t, err)

	assert.NotNil(t, transport)
}

func TestCertEnvVar(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.GitHubConfig{
		APIURL:                     "https://ghe.example.com/api/v3/",
		AppID:                      123456,
		AppSecretCertificateEnvVar: generateTestCertificateString(),
	}

	transport, err := New(ctx, testConfig, nil)

	assert.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3", transport.BaseURL)
}

func TestCertEnvVarEscapedNewlines(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.GitHubConfig{
		APIURL:                     "https://api.github.com",
		AppID:                      123456,
		AppSecretCertificateEnvVar: strings.ReplaceAll(generateTestCertificateString(), "\n", `\n`),
	}

	transport, err := New(ctx, testConfig, nil)

	assert.NoError(t, err)
	assert.NotNil(t, transport)
}

func TestCertEnvVarNotPEM(t *testing.T) {
	testConfig := &envconfig.GitHubConfig{
		APIURL:                     "https://api.github.com",
		AppID:                      123456,
		AppSecretCertificateEnvVar: "not-a-key",
	}

	_, err := New(context.Background(), testConfig, nil)

	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestCertFile(t *testing.T) {
	ctx := context.Background()

	testConfig := &envconfig.GitHubConfig{
		APIURL:                   "https://api.github.com",
		AppID:                    123456,
		AppSecretCertificateFile: generateTestCertificateFile(t),
	}

	transport, err := New(ctx, testConfig, nil)

	assert.NoError(t, err)

	assert.NotNil(t, transport)
}

func TestNoKey(t *testing.T) {
	_, err := New(context.Background(), &envconfig.GitHubConfig{AppID: 123456}, nil)
	assert.Error(t, err)
}

func generateKMSClient(ctx context.Context, t *testing.T) *kmsGCP.KeyManagementClient {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	client, err := kmsGCP.NewKeyManagementClient(ctx,
		option.WithEndpoint(l.Addr().String()),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func testKeyPEM() *pem.Block {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
}

func generateTestCertificateString() string {
	var pemOut bytes.Buffer
	if err := pem.Encode(&pemOut, testKeyPEM()); err != nil {
		panic(err)
	}
	return pemOut.String()
}

func generateTestCertificateFile(t *testing.T) string {
	tmpFile, err := os.CreateTemp(t.TempDir(), "privateKey*.pem")
	if err != nil {
		t.Fatal(err)
	}
	defer tmpFile.Close()

	if err := pem.Encode(tmpFile, testKeyPEM()); err != nil {
		t.Fatal(err)
	}

	return tmpFile.Name()
}
