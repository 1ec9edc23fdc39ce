// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strings"
	"testing"

	kmsGCP "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type fakeGCPKMS struct {
	kmspb.UnimplementedKeyManagementServiceServer

	names []string
}

func (f *fakeGCPKMS) AsymmetricSign(_ context.Context, req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
	f.names = append(f.names, req.GetName())
	return &kmspb.AsymmetricSignResponse{
		Signature: []byte("fake"),
	}, nil
}

func TestGCPSigner(t *testing.T) {
	ctx := context.Background()

	impl := &fakeGCPKMS{}
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	gsrv := grpc.NewServer()
	kmspb.RegisterKeyManagementServiceServer(gsrv, impl)
	go gsrv.Serve(l) //nolint:errcheck
	t.Cleanup(gsrv.Stop)

	client, err := kmsGCP.NewKeyManagementClient(ctx,
		option.WithEndpoint(l.Addr().String()),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatal(err)
	}

	signer := NewGCPSigner(ctx, client, "projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1")
	tok, err := signer.Sign(jwt.RegisteredClaims{
		Subject: "foo",
		Issuer:  "1234",
	})
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, wanted 3", len(parts))
	}
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("fake")), parts[2])
	assert.Equal(t, []string{"projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1"}, impl.names)
}

func TestSigningMethod(t *testing.T) {
	m := &signingMethod{
		ctx: context.Background(),
		sign: func(context.Context, string, []byte) ([]byte, error) {
			return nil, errors.New("kms unavailable")
		},
	}

	assert.Equal(t, "RS256", m.Alg())
	assert.ErrorContains(t, m.Verify("string", "signature", "key"), "not implemented")

	_, err := m.Sign("payload", 42)
	assert.ErrorContains(t, err, "invalid key reference type")

	_, err = m.Sign("payload", "key")
	assert.ErrorContains(t, err, "kms unavailable")
}

func TestNewSignerInvalidProvider(t *testing.T) {
	signer, err := NewSigner(context.Background(), "fake", "n/a")
	assert.ErrorContains(t, err, "unsupported kms provider")
	assert.Nil(t, signer)
}

func TestNewSignerValidProviders(t *testing.T) {
	for _, provider := range []string{"aws", "AWS", "gcp", "GCP"} {
		t.Run(provider, func(t *testing.T) {
			signer, err := NewSigner(context.Background(), provider, "test-key")
			if err != nil {
				t.Skipf("Skipping test due to missing credentials or connectivity: %v", err)
			}
			assert.NotNil(t, signer)
		})
	}
}
