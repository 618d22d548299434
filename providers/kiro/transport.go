package kiro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/erikhoward/kirogw/core"
)

const (
	acceptEventStream = "application/vnd.amazon.eventstream"
	defaultUserAgent  = "kirogw/1.0"
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 64 << 10
)

// BodyFunc renders the request body for the credential used on an attempt.
type BodyFunc func(cred Credential) ([]byte, error)

// Transport sends requests to the backend with retries. Transient failures
// (network errors, timeouts, 5xx, 429) are retried with backoff; a 401 or 403
// invalidates the credential and is retried once with a fresh one.
type Transport struct {
	client         *http.Client
	session        *SessionManager
	retry          core.RetryPolicy
	diag           core.DiagnosticSink
	baseURL        string
	region         string
	userAgent      string
	requestTimeout time.Duration
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTransportRetry sets the retry policy for transient failures.
func WithTransportRetry(p core.RetryPolicy) TransportOption {
	return func(t *Transport) {
		if p != nil {
			t.retry = p
		}
	}
}

// WithBaseURL sends every request to url instead of the regional endpoint.
func WithBaseURL(url string) TransportOption {
	return func(t *Transport) { t.baseURL = url }
}

// WithTransportRegion sets the region used when the credential names none.
func WithTransportRegion(region string) TransportOption {
	return func(t *Transport) { t.region = region }
}

// WithRequestTimeout bounds a non-streaming attempt, body included.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.requestTimeout = d }
}

// WithTransportDiagnostics sets the diagnostic sink.
func WithTransportDiagnostics(d core.DiagnosticSink) TransportOption {
	return func(t *Transport) {
		if d != nil {
			t.diag = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) TransportOption {
	return func(t *Transport) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// NewTransport creates a Transport that takes credentials from session.
func NewTransport(session *SessionManager, opts ...TransportOption) *Transport {
	t := &Transport{
		client:         &http.Client{},
		session:        session,
		retry:          core.DefaultRetryPolicy(),
		diag:           core.NoopDiagnostics{},
		userAgent:      defaultUserAgent,
		requestTimeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// endpoint returns the generateAssistantResponse URL for cred.
func (t *Transport) endpoint(cred Credential) string {
	if t.baseURL != "" {
		return t.baseURL
	}
	region := cred.Region
	if region == "" {
		region = t.region
	}
	if region == "" {
		region = RegionFromARN(cred.ProfileARN)
	}
	return fmt.Sprintf("https://q.%s.amazonaws.com/generateAssistantResponse", regionOr(region))
}

// Send posts the body produced by build and returns the successful response.
// With streaming set the body is returned unread and the caller must close
// it; otherwise it has been read in full within the request timeout.
func (t *Transport) Send(ctx context.Context, build BodyFunc, streaming bool) (*http.Response, error) {
	authRetried := false
	for attempt := 0; ; {
		cred, err := t.session.Credential(ctx)
		if err != nil {
			return nil, err
		}
		body, err := build(cred)
		if err != nil {
			return nil, err
		}

		resp, err := t.do(ctx, cred, body, streaming, attempt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, core.ErrUnauthorized) {
			t.session.Invalidate(cred)
			if authRetried {
				return nil, newAuthError(err)
			}
			authRetried = true
			t.diag.Diagnose(core.Diagnostic{
				Level:     core.LevelWarn,
				Component: "transport",
				Message:   "backend rejected credential, refreshing",
				Fields:    map[string]any{"error": err.Error()},
			})
			continue
		}

		delay, retry := t.retry.NextDelay(attempt, err)
		if !retry {
			if core.IsRetryable(err) {
				return nil, newUnavailableError(err)
			}
			return nil, err
		}
		t.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelWarn,
			Component: "transport",
			Message:   "transient backend failure, retrying",
			Fields:    map[string]any{"attempt": attempt + 1, "delay": delay, "error": err.Error()},
		})
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		attempt++
	}
}

func (t *Transport) do(ctx context.Context, cred Credential, body []byte, streaming bool, attempt int) (*http.Response, error) {
	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if !streaming && t.requestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, t.requestTimeout)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.endpoint(cred), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptEventStream)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", fmt.Sprintf("attempt=%d", attempt+1))

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, newNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, normalizeError(resp.StatusCode, errBody)
	}

	if streaming {
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	cancel()
	if err != nil {
		return nil, newNetworkError(err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
