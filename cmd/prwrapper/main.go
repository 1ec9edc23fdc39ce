// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	metrics "github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	mce "github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics/cloudevents"
	"github.com/google/go-github/v75/github"
	"github.com/redbonzai/github-pr-wrapper/pkg/audit"
	envConfig "github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghclient"
	"github.com/redbonzai/github-pr-wrapper/pkg/ghtransport"
	"github.com/redbonzai/github-pr-wrapper/pkg/installtoken"
	"github.com/redbonzai/github-pr-wrapper/pkg/prwrapper"
	"github.com/redbonzai/github-pr-wrapper/pkg/pullrequest"
	"github.com/redbonzai/github-pr-wrapper/pkg/secrets"
	"github.com/redbonzai/github-pr-wrapper/pkg/slack"
	"github.com/redbonzai/github-pr-wrapper/pkg/transport"
	"golang.org/x/time/rate"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(slog.Default().Handler()))

	cfg, err := envConfig.PRWrapper()
	if err != nil {
		log.Panicf("failed to process env var: %s", err)
	}

	if cfg.SecretProvider != "" {
		sp, err := secrets.NewSecretProvider(ctx, cfg.SecretProvider)
		if err != nil {
			log.Panicf("could not create secret provider: %v", err)
		}
		if err := secrets.Resolve(ctx, sp,
			&cfg.ClientSecret,
			&cfg.AppSecretCertificateEnvVar,
			&cfg.GitHubToken,
			&cfg.BotToken,
		); err != nil {
			log.Panicf("error resolving secrets: %v", err)
		}
	}

	if cfg.Metrics {
		go metrics.ServeMetrics()

		// Setup tracing.
		defer metrics.SetupTracer(ctx)()
	}

	rt := transport.New(metrics.Transport, transport.Options{
		MaxResponseBytes: cfg.MaxResponseBytes,
		Limiter:          rate.NewLimiter(rate.Limit(cfg.OutboundRPS), cfg.OutboundBurst),
	})

	var em *audit.Emitter
	if cfg.EventingIngress != "" {
		ceclient, err := mce.NewClientHTTP("github-pr-wrapper", mce.WithTarget(ctx, cfg.EventingIngress)...)
		if err != nil {
			log.Panicf("failed to create cloudevents client: %v", err)
		}
		em = audit.New(ceclient)
	} else {
		em = audit.New(nil)
	}

	var gh *github.Client
	if cfg.GitHubToken != "" {
		gh, err = ghclient.WithToken(ctx, ghclient.StaticToken(cfg.GitHubToken), rt, cfg.APIURL)
		if err != nil {
			log.Panicf("error creating GitHub client: %v", err)
		}
	} else {
		atr, err := ghtransport.New(ctx, &cfg.GitHubConfig, rt)
		if err != nil {
			log.Panicf("error creating GitHub App transport: %v", err)
		}
		appClient, err := ghclient.New(atr, cfg.APIURL)
		if err != nil {
			log.Panicf("error creating GitHub App client: %v", err)
		}
		tokens := installtoken.New(appClient, cfg.TokenCacheTTL, installtoken.WithAudit(em))
		gh, err = ghclient.WithToken(ctx, tokens.TokenSource(ctx, cfg.InstallationID), rt, cfg.APIURL)
		if err != nil {
			log.Panicf("error creating GitHub client: %v", err)
		}
	}

	prs := pullrequest.New(gh,
		pullrequest.WithAudit(em),
		pullrequest.WithUserTransport(rt),
	)
	notifier := slack.New(&cfg.SlackConfig, &http.Client{Transport: rt})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           metrics.Handler("prwrapper", prwrapper.NewHandler(prs, notifier)),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			clog.FromContext(ctx).Errorf("error shutting down: %v", err)
		}
	}()

	clog.FromContext(ctx).Infof("prwrapper listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Panicf("ListenAndServe() = %v", err)
	}
}
