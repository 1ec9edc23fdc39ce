// Copyright 2024 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package envconfig

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"k8s.io/apimachinery/pkg/util/sets"
)

// BaseConfig holds settings shared by every binary.
type BaseConfig struct {
	Metrics          bool    `envconfig:"METRICS" required:"false" default:"true"`
	SecretProvider   string  `envconfig:"SECRET_PROVIDER" required:"false"`
	EventingIngress  string  `envconfig:"EVENT_INGRESS_URI" required:"false"`
	OutboundRPS      float64 `envconfig:"OUTBOUND_RATE_LIMIT" required:"false" default:"10"`
	OutboundBurst    int     `envconfig:"OUTBOUND_RATE_BURST" required:"false" default:"20"`
	MaxResponseBytes int64   `envconfig:"MAX_RESPONSE_BYTES" required:"false" default:"10485760"`
}

// GitHubConfig holds the GitHub App credentials.
type GitHubConfig struct {
	APIURL                     string        `envconfig:"GITHUB_API_URL" required:"false" default:"https://api.github.com"`
	AppID                      int64         `envconfig:"GITHUB_APP_ID" required:"true"`
	ClientID                   string        `envconfig:"GITHUB_CLIENT_ID" required:"true"`
	ClientSecret               string        `envconfig:"GITHUB_CLIENT_SECRET" required:"true"`
	AppSecretCertificateEnvVar string        `envconfig:"GITHUB_PRIVATE_KEY" required:"false"`
	AppSecretCertificateFile   string        `envconfig:"APP_SECRET_CERTIFICATE_FILE" required:"false"`
	KMSKey                     string        `envconfig:"KMS_KEY" required:"false"`
	KMSProvider                string        `envconfig:"KMS_PROVIDER" required:"false" default:"gcp"`
	TokenCacheTTL              time.Duration `envconfig:"TOKEN_CACHE_TTL" required:"false" default:"55m"`
}

// JiraConfig holds the Jira base URL and Basic auth credentials.
type JiraConfig struct {
	URL        string `envconfig:"JIRA_URL" required:"true"`
	Username   string `envconfig:"JIRA_USERNAME" required:"true"`
	APIToken   string `envconfig:"JIRA_API_TOKEN" required:"true"`
	ProjectKey string `envconfig:"JIRA_PROJECT_KEY" required:"true"`
}

// SlackConfig holds the Slack bot token and default channel.
type SlackConfig struct {
	BotToken  string `envconfig:"SLACK_BOT_TOKEN" required:"true"`
	ChannelID string `envconfig:"SLACK_CHANNEL_ID" required:"true"`
	APIURL    string `envconfig:"SLACK_API_URL" required:"false"`
}

// PRWrapperConfig configures cmd/prwrapper.
type PRWrapperConfig struct {
	Port int `envconfig:"PORT" required:"false" default:"3100"`
	// GitHubToken is a static token used instead of an installation token
	// when set.
	GitHubToken    string `envconfig:"GITHUB_TOKEN" required:"false"`
	InstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID" required:"false"`

	BaseConfig
	GitHubConfig
	SlackConfig
}

// AppServiceConfig configures cmd/appservice.
type AppServiceConfig struct {
	Port int `envconfig:"PORT" required:"false" default:"3200"`

	BaseConfig
	GitHubConfig
	JiraConfig
	SlackConfig
}

// ProberConfig configures cmd/prober.
type ProberConfig struct {
	ServiceURL     string `envconfig:"APPSERVICE_URL" required:"true"`
	GitHubAPIURL   string `envconfig:"GITHUB_API_URL" required:"false" default:"https://api.github.com"`
	InstallationID int64  `envconfig:"PROBE_INSTALLATION_ID" required:"true"`
	Owner          string `envconfig:"PROBE_OWNER" required:"true"`
	Repo           string `envconfig:"PROBE_REPO" required:"true"`
}

// PRWrapper reads and validates the prwrapper configuration.
func PRWrapper() (*PRWrapperConfig, error) {
	cfg := new(PRWrapperConfig)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AppService reads and validates the appservice configuration.
func AppService() (*AppServiceConfig, error) {
	cfg := new(AppServiceConfig)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Prober reads the prober configuration.
func Prober() (*ProberConfig, error) {
	cfg := new(ProberConfig)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a PRWrapperConfig.
func (c *PRWrapperConfig) Validate() error {
	var merr error
	if err := c.BaseConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.GitHubConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.SlackConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if c.GitHubToken == "" && c.InstallationID <= 0 {
		merr = multierror.Append(merr, errors.New("one of GITHUB_TOKEN or GITHUB_INSTALLATION_ID must be set"))
	}
	return merr
}

// Validate checks an AppServiceConfig.
func (c *AppServiceConfig) Validate() error {
	var merr error
	if err := c.BaseConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.GitHubConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.JiraConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.SlackConfig.Validate(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr
}

// Validate checks a BaseConfig.
func (c *BaseConfig) Validate() error {
	var merr error
	switch strings.ToLower(c.SecretProvider) {
	case "", "gcp", "aws":
	default:
		merr = multierror.Append(merr, fmt.Errorf("unsupported SECRET_PROVIDER %q", c.SecretProvider))
	}
	if c.EventingIngress != "" {
		if err := validateURL("EVENT_INGRESS_URI", c.EventingIngress); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if c.OutboundRPS <= 0 {
		merr = multierror.Append(merr, errors.New("OUTBOUND_RATE_LIMIT must be positive"))
	}
	if c.MaxResponseBytes <= 0 {
		merr = multierror.Append(merr, errors.New("MAX_RESPONSE_BYTES must be positive"))
	}
	return merr
}

// Validate checks that exactly one private key source is configured.
func (c *GitHubConfig) Validate() error {
	var merr error
	sources := 0
	for _, s := range []string{c.AppSecretCertificateEnvVar, c.AppSecretCertificateFile, c.KMSKey} {
		if s != "" {
			sources++
		}
	}
	if err := nonEmpty(map[string]string{
		"GITHUB_CLIENT_ID":     c.ClientID,
		"GITHUB_CLIENT_SECRET": c.ClientSecret,
	}); err != nil {
		merr = multierror.Append(merr, err)
	}
	if sources != 1 {
		merr = multierror.Append(merr, errors.New("exactly one of GITHUB_PRIVATE_KEY, APP_SECRET_CERTIFICATE_FILE or KMS_KEY must be set"))
	}
	if c.KMSKey != "" {
		switch strings.ToLower(c.KMSProvider) {
		case "gcp", "aws":
		default:
			merr = multierror.Append(merr, fmt.Errorf("unsupported KMS_PROVIDER %q", c.KMSProvider))
		}
	}
	if err := validateURL("GITHUB_API_URL", c.APIURL); err != nil {
		merr = multierror.Append(merr, err)
	}
	if c.TokenCacheTTL <= 0 {
		merr = multierror.Append(merr, errors.New("TOKEN_CACHE_TTL must be positive"))
	}
	return merr
}

// Validate checks a JiraConfig.
func (c *JiraConfig) Validate() error {
	var merr error
	if err := validateURL("JIRA_URL", c.URL); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := nonEmpty(map[string]string{
		"JIRA_USERNAME":    c.Username,
		"JIRA_API_TOKEN":   c.APIToken,
		"JIRA_PROJECT_KEY": c.ProjectKey,
	}); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr
}

// Validate checks a SlackConfig.
func (c *SlackConfig) Validate() error {
	var merr error
	if err := nonEmpty(map[string]string{
		"SLACK_BOT_TOKEN":  c.BotToken,
		"SLACK_CHANNEL_ID": c.ChannelID,
	}); err != nil {
		merr = multierror.Append(merr, err)
	}
	if c.APIURL != "" {
		if err := validateURL("SLACK_API_URL", c.APIURL); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}

// envconfig accepts a required variable that is set but empty.
func nonEmpty(fields map[string]string) error {
	var merr error
	for _, name := range sets.List(sets.KeySet(fields)) {
		if strings.TrimSpace(fields[name]) == "" {
			merr = multierror.Append(merr, fmt.Errorf("%s must not be empty", name))
		}
	}
	return merr
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute http(s) URL", name, raw)
	}
	return nil
}
