package kiro

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultRegion is used when neither configuration nor profile ARN name one.
	DefaultRegion   = "us-east-1"
	defaultTokenTTL = time.Hour
)

// RegionFromARN extracts the region of a profile ARN such as
// arn:aws:codewhisperer:us-east-1:123456789012:profile/ABC.
func RegionFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) > 3 && parts[0] == "arn" {
		return parts[3]
	}
	return ""
}

// DesktopIssuer refreshes tokens through the Kiro desktop auth service.
// The refresh token is rotated in memory when the service returns a new one.
type DesktopIssuer struct {
	Region     string
	ProfileARN string
	// Endpoint overrides the refresh URL.
	Endpoint   string
	HTTPClient *http.Client
	Now        func() time.Time

	mu           sync.Mutex
	refreshToken string
}

// NewDesktopIssuer creates a DesktopIssuer.
func NewDesktopIssuer(refreshToken, region string) *DesktopIssuer {
	return &DesktopIssuer{Region: region, refreshToken: refreshToken}
}

func (d *DesktopIssuer) endpoint() string {
	if d.Endpoint != "" {
		return d.Endpoint
	}
	return fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/refreshToken", regionOr(d.Region))
}

func (d *DesktopIssuer) Issue(ctx context.Context) (Credential, error) {
	d.mu.Lock()
	rt := d.refreshToken
	d.mu.Unlock()
	if rt == "" {
		return Credential{}, errors.New("kiro: refresh token not configured")
	}

	res, err := postJSON(ctx, d.HTTPClient, d.endpoint(), map[string]string{"refreshToken": rt})
	if err != nil {
		return Credential{}, err
	}

	if next := res.Get("refreshToken").String(); next != "" {
		d.mu.Lock()
		d.refreshToken = next
		d.mu.Unlock()
	}
	profile := res.Get("profileArn").String()
	if profile == "" {
		profile = d.ProfileARN
	}
	return credentialFrom(res, d.Region, profile, nowOr(d.Now))
}

// SSOOIDCIssuer refreshes tokens through AWS SSO OIDC, as used by AWS
// Builder ID logins.
type SSOOIDCIssuer struct {
	Region       string
	ProfileARN   string
	ClientID     string
	ClientSecret string
	Endpoint     string
	HTTPClient   *http.Client
	Now          func() time.Time

	mu           sync.Mutex
	refreshToken string
}

// NewSSOOIDCIssuer creates an SSOOIDCIssuer.
func NewSSOOIDCIssuer(refreshToken, clientID, clientSecret, region string) *SSOOIDCIssuer {
	return &SSOOIDCIssuer{
		Region:       region,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		refreshToken: refreshToken,
	}
}

func (s *SSOOIDCIssuer) endpoint() string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return fmt.Sprintf("https://oidc.%s.amazonaws.com/token", regionOr(s.Region))
}

func (s *SSOOIDCIssuer) Issue(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	rt := s.refreshToken
	s.mu.Unlock()
	if rt == "" || s.ClientID == "" || s.ClientSecret == "" {
		return Credential{}, errors.New("kiro: sso-oidc refresh needs refresh token, client id and client secret")
	}

	res, err := postJSON(ctx, s.HTTPClient, s.endpoint(), map[string]string{
		"clientId":     s.ClientID,
		"clientSecret": s.ClientSecret,
		"refreshToken": rt,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return Credential{}, err
	}
	if next := res.Get("refreshToken").String(); next != "" {
		s.mu.Lock()
		s.refreshToken = next
		s.mu.Unlock()
	}
	return credentialFrom(res, s.Region, s.ProfileARN, nowOr(s.Now))
}

// StaticIssuer hands out a fixed access token. Its expiry is ExpiresAt when
// set, else the token's JWT exp claim when present.
type StaticIssuer struct {
	AccessToken string
	ExpiresAt   time.Time
	Region      string
	ProfileARN  string
	Now         func() time.Time
}

func (s *StaticIssuer) Issue(context.Context) (Credential, error) {
	if s.AccessToken == "" {
		return Credential{}, errors.New("kiro: access token not configured")
	}
	exp := s.ExpiresAt
	if exp.IsZero() {
		exp = jwtExpiry(s.AccessToken)
	}
	if !exp.IsZero() && !nowOr(s.Now)().Before(exp) {
		return Credential{}, fmt.Errorf("kiro: static access token expired at %s", exp.Format(time.RFC3339))
	}
	return Credential{
		AccessToken: s.AccessToken,
		ExpiresAt:   exp,
		Region:      s.Region,
		ProfileARN:  s.ProfileARN,
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) (gjson.Result, error) {
	if client == nil {
		client = http.DefaultClient
	}
	data, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, newNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, newNetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, normalizeError(resp.StatusCode, respBody)
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, newDecodeError(errInvalidJSON)
	}
	return gjson.ParseBytes(respBody), nil
}

func credentialFrom(res gjson.Result, region, profileARN string, now func() time.Time) (Credential, error) {
	token := res.Get("accessToken").String()
	if token == "" {
		return Credential{}, newDecodeError(errors.New("token response has no accessToken"))
	}

	var exp time.Time
	switch {
	case res.Get("expiresIn").Int() > 0:
		exp = now().Add(time.Duration(res.Get("expiresIn").Int()) * time.Second)
	case res.Get("expiresAt").String() != "":
		exp, _ = time.Parse(time.RFC3339, res.Get("expiresAt").String())
	}
	if exp.IsZero() {
		exp = jwtExpiry(token)
	}
	if exp.IsZero() {
		exp = now().Add(defaultTokenTTL)
	}

	return Credential{
		AccessToken: token,
		ExpiresAt:   exp,
		Region:      region,
		ProfileARN:  profileARN,
	}, nil
}

// jwtExpiry returns the exp claim of a JWT, or the zero time when token is
// not a JWT or carries no exp.
func jwtExpiry(token string) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}
	}
	exp := gjson.GetBytes(payload, "exp").Int()
	if exp == 0 {
		return time.Time{}
	}
	return time.Unix(exp, 0)
}

func regionOr(region string) string {
	if region == "" {
		return DefaultRegion
	}
	return region
}

func nowOr(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

var (
	_ TokenIssuer = (*DesktopIssuer)(nil)
	_ TokenIssuer = (*SSOOIDCIssuer)(nil)
	_ TokenIssuer = (*StaticIssuer)(nil)
)
