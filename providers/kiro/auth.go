package kiro

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/erikhoward/kirogw/core"
)

// Credential is a bearer token for the backend.
type Credential struct {
	AccessToken string
	// ExpiresAt is the absolute expiry. The zero value means unknown.
	ExpiresAt  time.Time
	Region     string
	ProfileARN string
}

// expiresWithin reports whether c expires before now+d.
func (c Credential) expiresWithin(now time.Time, d time.Duration) bool {
	return !c.ExpiresAt.IsZero() && !now.Add(d).Before(c.ExpiresAt)
}

// TokenIssuer issues fresh credentials.
type TokenIssuer interface {
	Issue(ctx context.Context) (Credential, error)
}

// IssuerFunc adapts a function to TokenIssuer.
type IssuerFunc func(ctx context.Context) (Credential, error)

func (f IssuerFunc) Issue(ctx context.Context) (Credential, error) { return f(ctx) }

// SessionState describes the cached credential.
type SessionState int

const (
	StateUnissued SessionState = iota
	StateValid
	StateExpiring
	StateRefreshing
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUnissued:
		return "unissued"
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionManager caches the backend credential and refreshes it on demand.
// Concurrent callers that find the credential unusable share one refresh.
type SessionManager struct {
	issuer         TokenIssuer
	diag           core.DiagnosticSink
	now            func() time.Time
	refreshMargin  time.Duration
	refreshTimeout time.Duration

	group singleflight.Group

	mu         sync.Mutex
	cred       Credential
	issued     bool
	stale      bool
	refreshing bool
	lastErr    error
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithRefreshMargin sets how long before expiry a credential is refreshed.
func WithRefreshMargin(d time.Duration) SessionOption {
	return func(m *SessionManager) { m.refreshMargin = d }
}

// WithRefreshTimeout bounds a single refresh.
func WithRefreshTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithSessionDiagnostics sets the diagnostic sink.
func WithSessionDiagnostics(d core.DiagnosticSink) SessionOption {
	return func(m *SessionManager) {
		if d != nil {
			m.diag = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithInitialCredential seeds the cache, for example with a token loaded at startup.
func WithInitialCredential(c Credential) SessionOption {
	return func(m *SessionManager) {
		if c.AccessToken != "" {
			m.cred = c
			m.issued = true
		}
	}
}

// NewSessionManager creates a SessionManager backed by issuer.
func NewSessionManager(issuer TokenIssuer, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		issuer:         issuer,
		diag:           core.NoopDiagnostics{},
		now:            time.Now,
		refreshMargin:  time.Minute,
		refreshTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// usable reports whether the cached credential can be handed out. m.mu must be held.
func (m *SessionManager) usable(now time.Time) bool {
	return m.issued && !m.stale && !m.cred.expiresWithin(now, m.refreshMargin)
}

// Credential returns the cached credential, refreshing it first when it is
// missing, invalidated or about to expire. Refresh failures are returned as
// errors matching core.ErrAuth. A credential inside the refresh margin is
// still returned when its refresh fails but it has not yet expired.
func (m *SessionManager) Credential(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	now := m.now()
	if m.usable(now) {
		c := m.cred
		m.mu.Unlock()
		return c, nil
	}
	fallback, canFallback := m.cred, m.issued && !m.stale && !m.cred.expiresWithin(now, 0)
	m.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		return m.refresh(detached)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			if canFallback {
				m.diag.Diagnose(core.Diagnostic{
					Level:     core.LevelWarn,
					Component: "auth",
					Message:   "refresh failed, using credential until it expires",
					Fields:    map[string]any{"error": r.Err.Error(), "expires_at": fallback.ExpiresAt},
				})
				return fallback, nil
			}
			return Credential{}, r.Err
		}
		return r.Val.(Credential), nil
	}
}

func (m *SessionManager) refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if m.usable(m.now()) {
		// A refresh finished between the caller's check and this one.
		c := m.cred
		m.mu.Unlock()
		return c, nil
	}
	m.refreshing = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()
	start := m.now()
	cred, err := m.issuer.Issue(ctx)
	if err == nil && cred.AccessToken == "" {
		err = errors.New("issuer returned an empty access token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing = false
	if err != nil {
		m.lastErr = newAuthError(err)
		m.diag.Diagnose(core.Diagnostic{
			Level:     core.LevelError,
			Component: "auth",
			Message:   "credential refresh failed",
			Fields:    map[string]any{"error": err.Error()},
		})
		return Credential{}, m.lastErr
	}
	m.cred = cred
	m.issued = true
	m.stale = false
	m.lastErr = nil
	m.diag.Diagnose(core.Diagnostic{
		Level:     core.LevelInfo,
		Component: "auth",
		Message:   "credential refreshed",
		Fields:    map[string]any{"expires_at": cred.ExpiresAt, "took": m.now().Sub(start)},
	})
	return cred, nil
}

// Invalidate marks stale as rejected so the next Credential call refreshes.
// It does nothing when the cache already holds a different token, so a late
// invalidation cannot discard a newer credential.
func (m *SessionManager) Invalidate(stale Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.issued {
		return
	}
	if stale.AccessToken != "" && stale.AccessToken != m.cred.AccessToken {
		return
	}
	m.stale = true
}

// State reports the current session state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.refreshing:
		return StateRefreshing
	case !m.issued && m.lastErr != nil:
		return StateFailed
	case !m.issued:
		return StateUnissued
	}
	needsRefresh := m.stale || m.cred.expiresWithin(m.now(), m.refreshMargin)
	switch {
	case needsRefresh && m.lastErr != nil:
		return StateFailed
	case needsRefresh:
		return StateExpiring
	default:
		return StateValid
	}
}
