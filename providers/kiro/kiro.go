package kiro

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

// Kiro is a core.Provider that talks to the generateAssistantResponse API.
// Kiro is safe for concurrent use.
type Kiro struct {
	session   *SessionManager
	resolver  Resolver
	payload   PayloadConfig
	translate TranslatorConfig
	diag      core.DiagnosticSink

	transportOpts []TransportOption
	transport     *Transport
}

// Option configures a Kiro provider.
type Option func(*Kiro)

// WithResolver sets the model resolver.
func WithResolver(r Resolver) Option {
	return func(k *Kiro) {
		if r != nil {
			k.resolver = r
		}
	}
}

// WithPayloadConfig sets the payload builder options.
func WithPayloadConfig(cfg PayloadConfig) Option {
	return func(k *Kiro) { k.payload = cfg }
}

// WithTranslatorConfig sets the response translation options.
func WithTranslatorConfig(cfg TranslatorConfig) Option {
	return func(k *Kiro) { k.translate = cfg }
}

// WithDiagnostics sets the diagnostic sink shared by all components.
func WithDiagnostics(d core.DiagnosticSink) Option {
	return func(k *Kiro) {
		if d != nil {
			k.diag = d
		}
	}
}

// WithTransport passes options to the underlying Transport.
func WithTransport(opts ...TransportOption) Option {
	return func(k *Kiro) { k.transportOpts = append(k.transportOpts, opts...) }
}

// New creates a Kiro provider using session for credentials.
func New(session *SessionManager, opts ...Option) *Kiro {
	k := &Kiro{
		session:   session,
		resolver:  NewStaticResolver(nil, ""),
		payload:   DefaultPayloadConfig(),
		translate: DefaultTranslatorConfig(),
		diag:      core.NoopDiagnostics{},
	}
	for _, opt := range opts {
		opt(k)
	}
	tOpts := append([]TransportOption{WithTransportDiagnostics(k.diag)}, k.transportOpts...)
	k.transport = NewTransport(session, tOpts...)
	return k
}

// ID returns the provider identifier.
func (k *Kiro) ID() string { return providerID }

// Session returns the session manager backing the provider.
func (k *Kiro) Session() *SessionManager { return k.session }

// Models lists the public model names the resolver accepts. It returns nil
// when the resolver cannot enumerate its names.
func (k *Kiro) Models() []core.ModelInfo {
	if l, ok := k.resolver.(interface{ List() []core.ModelInfo }); ok {
		return l.List()
	}
	return nil
}

// prepare resolves the model and builds the payload once. The returned body
// function fills in the profile ARN for the credential of each attempt.
func (k *Kiro) prepare(req *core.ChatRequest) (BodyFunc, error) {
	res, err := k.resolver.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(k.payload, WithBuilderDiagnostics(k.diag))
	p, err := b.Build(req, res.ModelID, res.ProfileARN)
	if err != nil {
		return nil, err
	}
	return func(cred Credential) ([]byte, error) {
		p.ProfileARN = res.ProfileARN
		if p.ProfileARN == "" {
			p.ProfileARN = cred.ProfileARN
		}
		return json.Marshal(p)
	}, nil
}

// Chat sends a request and returns the aggregated response.
func (k *Kiro) Chat(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := k.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := k.transport.Send(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	asm := newAssembler(k.translate, k.diag)
	if isJSON(resp.Header.Get("Content-Type")) {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, newNetworkError(err)
		}
		events, err := aggregatedEvents(data)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if _, err := asm.Feed(ev); err != nil {
				return nil, classifyStreamError(ctx, err)
			}
		}
	} else {
		dec := eventstream.NewDecoder(resp.Body)
		for ev, err := range dec.All() {
			if err != nil {
				return nil, classifyStreamError(ctx, err)
			}
			if _, err := asm.Feed(ev); err != nil {
				return nil, classifyStreamError(ctx, err)
			}
		}
	}

	if _, err := asm.Finish(nil); err != nil {
		return nil, err
	}
	return asm.Response(newResponseID(), req.Model), nil
}

// StreamChat sends a request and streams the translated chunks.
func (k *Kiro) StreamChat(ctx context.Context, req *core.ChatRequest) (*core.ChatStream, error) {
	body, err := k.prepare(req)
	if err != nil {
		return nil, err
	}
	resp, err := k.transport.Send(ctx, body, true)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan core.ChatChunk)
	errCh := make(chan error, 1)
	finalCh := make(chan *core.ChatResponse, 1)

	s := &streamer{
		asm:   newAssembler(k.translate, k.diag),
		model: req.Model,
		id:    newResponseID(),
	}
	go s.run(ctx, resp, chunkCh, errCh, finalCh)

	return &core.ChatStream{
		Ch:    chunkCh,
		Err:   errCh,
		Final: finalCh,
	}, nil
}

// classifyStreamError maps a failure met while reading a response body.
func classifyStreamError(ctx context.Context, err error) error {
	var ev eventstream.ErrorEvent
	switch {
	case errors.As(err, &ev):
		return newBackendException(ev)
	case errors.Is(err, eventstream.ErrIntegrity):
		return newFrameError(err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		var pe *core.ProviderError
		if errors.As(err, &pe) {
			return err
		}
		return newNetworkError(err)
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func newResponseID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

var (
	_ core.Provider    = (*Kiro)(nil)
	_ core.ModelLister = (*Kiro)(nil)
)
