// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package slack posts messages to Slack channels with bounded retries.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/chainguard-dev/clog"
	"github.com/redbonzai/github-pr-wrapper/pkg/envconfig"
	"github.com/redbonzai/github-pr-wrapper/pkg/upstream"
	"github.com/slack-go/slack"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// DefaultMaxTries is the number of chat.postMessage attempts per message.
	DefaultMaxTries = 3

	minDelay = time.Second
	maxDelay = 5 * time.Second
)

// Slack error codes that will not succeed on retry.
var permanentErrors = sets.New(
	"account_inactive",
	"channel_not_found",
	"invalid_auth",
	"is_archived",
	"missing_scope",
	"msg_too_long",
	"no_text",
	"not_authed",
	"not_in_channel",
	"token_revoked",
)

// Delivery is the outcome of posting one message.
type Delivery struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts,omitempty"`
	Attempts  int    `json:"attempts"`
	Err       error  `json:"-"`
}

// Delivered reports whether Slack accepted the message.
func (d Delivery) Delivered() bool {
	return d.Err == nil
}

// MarshalJSON adds the delivered flag and the failure reason.
func (d Delivery) MarshalJSON() ([]byte, error) {
	type delivery Delivery
	out := struct {
		delivery
		Delivered bool   `json:"delivered"`
		Error     string `json:"error,omitempty"`
	}{delivery: delivery(d), Delivered: d.Delivered()}
	if d.Err != nil {
		out.Error = d.Err.Error()
	}
	return json.Marshal(out)
}

// linear waits minDelay, then one more second per attempt up to maxDelay.
type linear struct {
	next time.Duration
}

// NextBackOff implements backoff.BackOff
func (l *linear) NextBackOff() time.Duration {
	if l.next == 0 {
		l.next = minDelay
	}
	d := l.next
	l.next = min(l.next+time.Second, maxDelay)
	return d
}

// Reset implements backoff.BackOff
func (l *linear) Reset() {
	l.next = 0
}

type Option func(*Notifier)

// WithBackOff overrides the delay policy between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(n *Notifier) { n.newBackOff = newBackOff }
}

// WithMaxTries overrides DefaultMaxTries.
func WithMaxTries(tries uint) Option {
	return func(n *Notifier) { n.maxTries = tries }
}

// Notifier posts messages with the bot token.
type Notifier struct {
	client     *slack.Client
	channel    string
	newBackOff func() backoff.BackOff
	maxTries   uint
}

// New returns a Notifier for cfg sending requests through hc.
func New(cfg *envconfig.SlackConfig, hc *http.Client, opts ...Option) *Notifier {
	if hc == nil {
		hc = http.DefaultClient
	}
	sopts := []slack.Option{slack.OptionHTTPClient(hc)}
	if cfg.APIURL != "" {
		sopts = append(sopts, slack.OptionAPIURL(strings.TrimSuffix(cfg.APIURL, "/")+"/"))
	}
	n := &Notifier{
		client:     slack.New(cfg.BotToken, sopts...),
		channel:    cfg.ChannelID,
		newBackOff: func() backoff.BackOff { return &linear{} },
		maxTries:   DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send posts text to channel, or to the default channel when channel is
// empty. Transient failures are retried.
func (n *Notifier) Send(ctx context.Context, channel, text string) (Delivery, error) {
	if channel == "" {
		channel = n.channel
	}
	d := Delivery{Channel: channel}

	ts, err := backoff.Retry(ctx, func() (string, error) {
		d.Attempts++
		_, ts, err := n.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
		if err == nil {
			return ts, nil
		}
		return "", classify(err)
	},
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(n.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			clog.FromContext(ctx).Warnf("slack attempt %d to %s failed, retrying in %s: %v", d.Attempts, channel, next, err)
		}),
	)
	if err != nil {
		d.Err = err
		return d, fmt.Errorf("posting to slack channel %s after %d attempts: %w", channel, d.Attempts, err)
	}
	d.Timestamp = ts
	clog.FromContext(ctx).Infof("message sent to slack channel %s", channel)
	return d, nil
}

// Notify is Send for callers that must not fail because Slack is down.
func (n *Notifier) Notify(ctx context.Context, channel, text string) Delivery {
	d, err := n.Send(ctx, channel, text)
	if err != nil {
		clog.FromContext(ctx).Errorf("error sending message to slack: %v", err)
	}
	return d
}

func classify(err error) error {
	var (
		serr slack.SlackErrorResponse
		rerr *slack.RateLimitedError
		herr slack.StatusCodeError
	)
	switch {
	case errors.As(err, &rerr):
		// Slack may ask for less than a second or for longer than we wait.
		return &backoff.RetryAfterError{Duration: min(max(rerr.RetryAfter, minDelay), maxDelay)}
	case errors.As(err, &serr):
		if permanentErrors.Has(serr.Err) {
			return backoff.Permanent(err)
		}
	case errors.As(err, &herr):
		if herr.Code < http.StatusInternalServerError {
			return backoff.Permanent(&upstream.Error{Service: upstream.Slack, StatusCode: herr.Code, Err: err})
		}
	}
	return err
}
