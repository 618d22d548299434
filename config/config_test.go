package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erikhoward/kirogw/providers/kiro"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Listen != DefaultListen || c.Auth.Method != AuthDesktop {
		t.Errorf("listen = %q method = %q", c.Listen, c.Auth.Method)
	}
	if *c.Payload.ToolDescriptionMaxLength != 10000 || c.Payload.FakeReasoningMaxTokens != 4000 {
		t.Errorf("payload = %+v", c.Payload)
	}
	if *c.Retry.MaxRetries != 3 || c.Retry.BaseDelay != time.Second || c.Retry.MaxDelay != 30*time.Second {
		t.Errorf("retry = %+v", c.Retry)
	}
	if c.Timeouts.Request != 120*time.Second || c.Timeouts.Refresh != 30*time.Second {
		t.Errorf("timeouts = %+v", c.Timeouts)
	}
	if err := c.Validate(); err == nil {
		t.Error("default config without a refresh token should not validate")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "kirogw.yaml", `
listen: 0.0.0.0:9000
api_key: sk-local
profile_arn: arn:aws:codewhisperer:eu-central-1:123456789012:profile/ABC
auth:
  method: sso-oidc
  refresh_token: rt
  client_id: cid
  client_secret: cs
payload:
  tool_description_max_length: 0
  fake_reasoning: true
retry:
  max_retries: 0
  base_delay: 250ms
timeouts:
  request: 10s
models:
  fast: claude-haiku-4.5
`)
	c, err := load(path, env(nil))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Listen != "0.0.0.0:9000" || c.APIKey != "sk-local" {
		t.Errorf("listen = %q api_key = %q", c.Listen, c.APIKey)
	}
	if c.EffectiveRegion() != "eu-central-1" {
		t.Errorf("region = %q", c.EffectiveRegion())
	}
	if got := c.PayloadOptions(); got.ToolDescriptionMaxLength != 0 || !got.FakeReasoning || got.FakeReasoningMaxTokens != 4000 {
		t.Errorf("payload options = %+v", got)
	}
	if *c.Retry.MaxRetries != 0 || c.Retry.BaseDelay != 250*time.Millisecond || c.Retry.MaxDelay != 30*time.Second {
		t.Errorf("retry = %+v", c.Retry)
	}
	if c.Timeouts.Request != 10*time.Second || c.Timeouts.Refresh != DefaultRefreshTimeout {
		t.Errorf("timeouts = %+v", c.Timeouts)
	}
	if c.Models["fast"] != "claude-haiku-4.5" {
		t.Errorf("models = %v", c.Models)
	}
	iss, err := c.Issuer()
	if err != nil {
		t.Fatal(err)
	}
	sso, ok := iss.(*kiro.SSOOIDCIssuer)
	if !ok || sso.Region != "eu-central-1" || sso.ClientID != "cid" {
		t.Errorf("issuer = %#v", iss)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "kirogw.toml", `
region = "us-west-2"
log_level = "debug"

[auth]
method = "static"
access_token = "tok"

[payload]
bracket_tool_calls = false
fake_reasoning_max_tokens = 2000

[retry]
max_delay = "5s"
`)
	c, err := load(path, env(nil))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Region != "us-west-2" || c.LogLevel != "debug" {
		t.Errorf("region = %q level = %q", c.Region, c.LogLevel)
	}
	if c.TranslatorOptions().BracketToolCalls {
		t.Error("bracket tool calls should be disabled")
	}
	if c.PayloadOptions().FakeReasoningMaxTokens != 2000 {
		t.Errorf("payload = %+v", c.PayloadOptions())
	}
	if c.Retry.MaxDelay != 5*time.Second {
		t.Errorf("max delay = %v", c.Retry.MaxDelay)
	}
	iss, err := c.Issuer()
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := iss.(*kiro.StaticIssuer); !ok || s.AccessToken != "tok" || s.Region != "us-west-2" {
		t.Errorf("issuer = %#v", iss)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "kirogw.yml", `
listen: 127.0.0.1:1
auth:
  refresh_token: from-file
`)
	c, err := load(path, env(map[string]string{
		"KIROGW_LISTEN":               "127.0.0.1:2",
		"KIRO_REFRESH_TOKEN":          "from-env",
		"PROXY_API_KEY":               "key",
		"TOOL_DESCRIPTION_MAX_LENGTH": "500",
		"FAKE_REASONING":              "true",
		"FAKE_REASONING_MAX_TOKENS":   "100",
		"KIRO_REGION":                 "ap-south-1",
	}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Listen != "127.0.0.1:2" || c.Auth.RefreshToken != "from-env" || c.APIKey != "key" {
		t.Errorf("config = %+v", c)
	}
	p := c.PayloadOptions()
	if p.ToolDescriptionMaxLength != 500 || !p.FakeReasoning || p.FakeReasoningMaxTokens != 100 {
		t.Errorf("payload = %+v", p)
	}
	iss, err := c.Issuer()
	if err != nil {
		t.Fatal(err)
	}
	if d, ok := iss.(*kiro.DesktopIssuer); !ok || d.Region != "ap-south-1" {
		t.Errorf("issuer = %#v", iss)
	}
}

func TestEnvOnly(t *testing.T) {
	c, err := load("", env(map[string]string{"KIRO_ACCESS_TOKEN": "tok"}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if c.Auth.Method != AuthStatic {
		t.Errorf("method = %q, want static", c.Auth.Method)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
		wantErr string
	}{
		{"bad extension", "c.json", `{}`, nil, "unsupported config format"},
		{"bad yaml", "c.yaml", "listen: [", nil, "failed to parse YAML"},
		{"bad toml", "c.toml", "listen = ", nil, "failed to parse TOML"},
		{"bad env int", "c.yaml", "auth: {refresh_token: x}", map[string]string{"TOOL_DESCRIPTION_MAX_LENGTH": "lots"}, "TOOL_DESCRIPTION_MAX_LENGTH"},
		{"unknown method", "c.yaml", "auth: {method: magic}", nil, `unknown auth.method "magic"`},
		{"sso missing client", "c.yaml", "auth: {method: sso-oidc, refresh_token: x}", nil, "client_id"},
		{"negative retries", "c.yaml", "auth: {refresh_token: x}\nretry: {max_retries: -1}", nil, "max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := load(path, env(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want not exist", err)
	}
}

func TestProvider(t *testing.T) {
	c, err := load("", env(map[string]string{"KIRO_ACCESS_TOKEN": "tok"}))
	if err != nil {
		t.Fatal(err)
	}
	p, err := c.Provider(nil)
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	if p.ID() != "kiro" || len(p.Models()) == 0 {
		t.Errorf("provider id = %q models = %d", p.ID(), len(p.Models()))
	}
}
