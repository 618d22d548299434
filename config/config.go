// Package config loads gateway configuration from YAML or TOML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro"
)

// Auth methods.
const (
	AuthDesktop = "desktop"
	AuthSSOOIDC = "sso-oidc"
	AuthStatic  = "static"
)

// Config is the process configuration. Build it with Load or Default and
// treat it as read-only afterwards.
type Config struct {
	Listen     string            `yaml:"listen" toml:"listen" json:"listen"`
	APIKey     string            `yaml:"api_key" toml:"api_key" json:"-"`
	Region     string            `yaml:"region" toml:"region" json:"region"`
	ProfileARN string            `yaml:"profile_arn" toml:"profile_arn" json:"profile_arn"`
	LogLevel   string            `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogFormat  string            `yaml:"log_format" toml:"log_format" json:"log_format"`
	Auth       AuthConfig        `yaml:"auth" toml:"auth" json:"auth"`
	Payload    PayloadConfig     `yaml:"payload" toml:"payload" json:"payload"`
	Retry      RetryConfig       `yaml:"retry" toml:"retry" json:"retry"`
	Timeouts   TimeoutConfig     `yaml:"timeouts" toml:"timeouts" json:"timeouts"`
	Models     map[string]string `yaml:"models" toml:"models" json:"models,omitempty"`
}

// AuthConfig selects and parameterizes the token issuer.
type AuthConfig struct {
	Method       string    `yaml:"method" toml:"method" json:"method"`
	RefreshToken string    `yaml:"refresh_token" toml:"refresh_token" json:"-"`
	ClientID     string    `yaml:"client_id" toml:"client_id" json:"client_id,omitempty"`
	ClientSecret string    `yaml:"client_secret" toml:"client_secret" json:"-"`
	AccessToken  string    `yaml:"access_token" toml:"access_token" json:"-"`
	ExpiresAt    time.Time `yaml:"expires_at" toml:"expires_at" json:"expires_at,omitzero"`
}

// PayloadConfig shapes backend payloads.
type PayloadConfig struct {
	// ToolDescriptionMaxLength of 0 disables relocation.
	ToolDescriptionMaxLength *int  `yaml:"tool_description_max_length" toml:"tool_description_max_length" json:"tool_description_max_length"`
	FakeReasoning            bool  `yaml:"fake_reasoning" toml:"fake_reasoning" json:"fake_reasoning"`
	FakeReasoningMaxTokens   int   `yaml:"fake_reasoning_max_tokens" toml:"fake_reasoning_max_tokens" json:"fake_reasoning_max_tokens"`
	BracketToolCalls         *bool `yaml:"bracket_tool_calls" toml:"bracket_tool_calls" json:"bracket_tool_calls"`
}

// RetryConfig bounds backend retries.
type RetryConfig struct {
	MaxRetries *int          `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" toml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
}

// TimeoutConfig holds per-operation timeouts.
type TimeoutConfig struct {
	// Request bounds a whole non-streaming request.
	Request time.Duration `yaml:"request" toml:"request" json:"request"`
	// Refresh bounds a single token refresh.
	Refresh time.Duration `yaml:"refresh" toml:"refresh" json:"refresh"`
}

// Defaults.
const (
	DefaultListen          = "127.0.0.1:8000"
	DefaultRequestTimeout  = 120 * time.Second
	DefaultRefreshTimeout  = 30 * time.Second
	defaultToolDescLength  = 10000
	defaultReasoningTokens = 4000
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, applies environment overrides and defaults, and validates
// the result. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	c := &Config{}
	if path != "" {
		if err := decodeFile(path, c); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("KIROGW_LISTEN", &c.Listen)
	str("PROXY_API_KEY", &c.APIKey)
	str("KIRO_REGION", &c.Region)
	str("KIRO_PROFILE_ARN", &c.ProfileARN)
	str("KIROGW_LOG_LEVEL", &c.LogLevel)
	str("KIRO_AUTH_METHOD", &c.Auth.Method)
	str("KIRO_REFRESH_TOKEN", &c.Auth.RefreshToken)
	str("KIRO_ACCESS_TOKEN", &c.Auth.AccessToken)
	str("KIRO_CLIENT_ID", &c.Auth.ClientID)
	str("KIRO_CLIENT_SECRET", &c.Auth.ClientSecret)

	if v, ok := lookup("TOOL_DESCRIPTION_MAX_LENGTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TOOL_DESCRIPTION_MAX_LENGTH: %w", err)
		}
		c.Payload.ToolDescriptionMaxLength = &n
	}
	if v, ok := lookup("FAKE_REASONING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FAKE_REASONING: %w", err)
		}
		c.Payload.FakeReasoning = b
	}
	if v, ok := lookup("FAKE_REASONING_MAX_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FAKE_REASONING_MAX_TOKENS: %w", err)
		}
		c.Payload.FakeReasoningMaxTokens = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Auth.Method == "" {
		switch {
		case c.Auth.RefreshToken == "" && c.Auth.AccessToken != "":
			c.Auth.Method = AuthStatic
		case c.Auth.ClientID != "":
			c.Auth.Method = AuthSSOOIDC
		default:
			c.Auth.Method = AuthDesktop
		}
	}
	if c.Payload.ToolDescriptionMaxLength == nil {
		n := defaultToolDescLength
		c.Payload.ToolDescriptionMaxLength = &n
	}
	if c.Payload.FakeReasoningMaxTokens == 0 {
		c.Payload.FakeReasoningMaxTokens = defaultReasoningTokens
	}
	if c.Payload.BracketToolCalls == nil {
		b := true
		c.Payload.BracketToolCalls = &b
	}
	def := core.DefaultRetryConfig()
	if c.Retry.MaxRetries == nil {
		n := def.MaxRetries
		c.Retry.MaxRetries = &n
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Timeouts.Request == 0 {
		c.Timeouts.Request = DefaultRequestTimeout
	}
	if c.Timeouts.Refresh == 0 {
		c.Timeouts.Refresh = DefaultRefreshTimeout
	}
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	switch c.Auth.Method {
	case AuthDesktop:
		if c.Auth.RefreshToken == "" {
			errs = append(errs, errors.New("auth.refresh_token is required for desktop auth"))
		}
	case AuthSSOOIDC:
		if c.Auth.RefreshToken == "" || c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			errs = append(errs, errors.New("auth.refresh_token, auth.client_id and auth.client_secret are required for sso-oidc auth"))
		}
	case AuthStatic:
		if c.Auth.AccessToken == "" {
			errs = append(errs, errors.New("auth.access_token is required for static auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.method %q", c.Auth.Method))
	}
	if n := c.Payload.ToolDescriptionMaxLength; n != nil && *n < 0 {
		errs = append(errs, errors.New("payload.tool_description_max_length must not be negative"))
	}
	if c.Payload.FakeReasoningMaxTokens < 0 {
		errs = append(errs, errors.New("payload.fake_reasoning_max_tokens must not be negative"))
	}
	if n := c.Retry.MaxRetries; n != nil && *n < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Timeouts.Request < 0 || c.Timeouts.Refresh < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	for name, id := range c.Models {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("models: empty entry %q: %q", name, id))
		}
	}
	return errors.Join(errs...)
}

// EffectiveRegion is the configured region, else the profile ARN's region,
// else kiro.DefaultRegion.
func (c *Config) EffectiveRegion() string {
	if c.Region != "" {
		return c.Region
	}
	if r := kiro.RegionFromARN(c.ProfileARN); r != "" {
		return r
	}
	return kiro.DefaultRegion
}

// PayloadOptions returns the payload builder configuration.
func (c *Config) PayloadOptions() kiro.PayloadConfig {
	p := kiro.DefaultPayloadConfig()
	if c.Payload.ToolDescriptionMaxLength != nil {
		p.ToolDescriptionMaxLength = *c.Payload.ToolDescriptionMaxLength
	}
	p.FakeReasoning = c.Payload.FakeReasoning
	if c.Payload.FakeReasoningMaxTokens > 0 {
		p.FakeReasoningMaxTokens = c.Payload.FakeReasoningMaxTokens
	}
	return p
}

// TranslatorOptions returns the response translator configuration.
func (c *Config) TranslatorOptions() kiro.TranslatorConfig {
	t := kiro.DefaultTranslatorConfig()
	if c.Payload.BracketToolCalls != nil {
		t.BracketToolCalls = *c.Payload.BracketToolCalls
	}
	return t
}

// RetryPolicy returns the backend retry policy.
func (c *Config) RetryPolicy() core.RetryPolicy {
	cfg := core.DefaultRetryConfig()
	if c.Retry.MaxRetries != nil {
		cfg.MaxRetries = *c.Retry.MaxRetries
	}
	cfg.BaseDelay = c.Retry.BaseDelay
	cfg.MaxDelay = c.Retry.MaxDelay
	return core.NewRetryPolicy(cfg)
}

// Issuer builds the token issuer selected by auth.method.
func (c *Config) Issuer() (kiro.TokenIssuer, error) {
	region := c.EffectiveRegion()
	switch c.Auth.Method {
	case AuthDesktop:
		d := kiro.NewDesktopIssuer(c.Auth.RefreshToken, region)
		d.ProfileARN = c.ProfileARN
		return d, nil
	case AuthSSOOIDC:
		s := kiro.NewSSOOIDCIssuer(c.Auth.RefreshToken, c.Auth.ClientID, c.Auth.ClientSecret, region)
		s.ProfileARN = c.ProfileARN
		return s, nil
	case AuthStatic:
		return &kiro.StaticIssuer{
			AccessToken: c.Auth.AccessToken,
			ExpiresAt:   c.Auth.ExpiresAt,
			Region:      region,
			ProfileARN:  c.ProfileARN,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth.method %q", c.Auth.Method)
	}
}

// Provider assembles a Kiro provider from c. diag receives the provider's
// diagnostics and may be nil.
func (c *Config) Provider(diag core.DiagnosticSink) (*kiro.Kiro, error) {
	issuer, err := c.Issuer()
	if err != nil {
		return nil, err
	}
	sessionOpts := []kiro.SessionOption{kiro.WithRefreshTimeout(c.Timeouts.Refresh)}
	opts := []kiro.Option{
		kiro.WithResolver(kiro.NewStaticResolver(c.Models, c.ProfileARN)),
		kiro.WithPayloadConfig(c.PayloadOptions()),
		kiro.WithTranslatorConfig(c.TranslatorOptions()),
		kiro.WithTransport(
			kiro.WithTransportRetry(c.RetryPolicy()),
			kiro.WithTransportRegion(c.EffectiveRegion()),
			kiro.WithRequestTimeout(c.Timeouts.Request),
		),
	}
	if diag != nil {
		sessionOpts = append(sessionOpts, kiro.WithSessionDiagnostics(diag))
		opts = append(opts, kiro.WithDiagnostics(diag))
	}
	return kiro.New(kiro.NewSessionManager(issuer, sessionOpts...), opts...), nil
}
