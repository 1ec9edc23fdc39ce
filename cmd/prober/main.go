/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"log"

	"github.com/chainguard-dev/terraform-infra-common/pkg/prober"
	envConfig "github.com/redbonzai/github-pr-wrapper/pkg/envconfig"

	prprober "github.com/redbonzai/github-pr-wrapper/pkg/prober"
)

func main() {
	ctx := context.Background()

	cfg, err := envConfig.Prober()
	if err != nil {
		log.Panicf("failed to process env var: %s", err)
	}
	prober.Go(ctx, prober.Func(prprober.New(cfg, nil)))
}
