package core

import (
	"context"
	"time"
)

// Provider is the interface that chat backends implement.
type Provider interface {
	// ID returns the provider identifier (e.g., "kiro").
	ID() string

	// Chat sends a non-streaming chat request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChat sends a streaming chat request.
	StreamChat(ctx context.Context, req *ChatRequest) (*ChatStream, error)
}

// ModelLister is implemented by providers that publish their model catalog.
type ModelLister interface {
	Models() []ModelInfo
}

// ChatStream represents a streaming response from a provider.
//
// Ch is closed after the terminal chunk. Exactly one of Err or Final then
// yields a value before both are closed.
type ChatStream struct {
	// Ch receives incremental chunks.
	Ch <-chan ChatChunk

	// Err receives any error that occurs during streaming.
	Err <-chan error

	// Final receives the complete response when streaming ends.
	Final <-chan *ChatResponse
}

// Client is the main entry point for sending chat requests to a provider.
// Client is safe for concurrent use.
type Client struct {
	provider  Provider
	telemetry TelemetryHook
	retry     RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new Client with the given provider and options.
func NewClient(p Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:  p,
		telemetry: NoopTelemetryHook{},
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTelemetry sets the telemetry hook for the client.
func WithTelemetry(h TelemetryHook) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.telemetry = h
		}
	}
}

// WithRetryPolicy sets the retry policy for the client.
func WithRetryPolicy(r RetryPolicy) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.retry = r
		}
	}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Chat returns a ChatBuilder for constructing and executing a chat request.
func (c *Client) Chat(model ModelID) *ChatBuilder {
	return &ChatBuilder{
		client: c,
		req:    ChatRequest{Model: model},
	}
}

// Do executes a fully formed request with telemetry and retries.
func (c *Client) Do(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	b := &ChatBuilder{client: c, req: *req}
	return b.GetResponse(ctx)
}

// DoStream executes a fully formed streaming request with telemetry.
func (c *Client) DoStream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	b := &ChatBuilder{client: c, req: *req}
	return b.Stream(ctx)
}

// ChatBuilder provides a fluent API for building chat requests.
// ChatBuilder is NOT thread-safe and should not be shared across goroutines.
type ChatBuilder struct {
	client *Client
	req    ChatRequest
}

// System appends a system message.
func (b *ChatBuilder) System(s string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, Message{Role: RoleSystem, Content: Text(s)})
	return b
}

// User appends a user message.
func (b *ChatBuilder) User(s string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, Message{Role: RoleUser, Content: Text(s)})
	return b
}

// Assistant appends an assistant message.
func (b *ChatBuilder) Assistant(s string, calls ...ToolCall) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, Message{Role: RoleAssistant, Content: Text(s), ToolCalls: calls})
	return b
}

// ToolResult appends the output of a tool call.
func (b *ChatBuilder) ToolResult(callID, output string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, Message{Role: RoleTool, Content: Text(output), ToolCallID: callID})
	return b
}

// Temperature sets the temperature parameter.
func (b *ChatBuilder) Temperature(v float32) *ChatBuilder {
	b.req.Temperature = &v
	return b
}

// MaxTokens sets the maximum tokens parameter.
func (b *ChatBuilder) MaxTokens(n int) *ChatBuilder {
	b.req.MaxTokens = &n
	return b
}

// Tools sets the tools available for the request.
func (b *ChatBuilder) Tools(ts ...ToolSpec) *ChatBuilder {
	b.req.Tools = ts
	return b
}

// Request returns a copy of the request built so far.
func (b *ChatBuilder) Request() ChatRequest {
	return b.req
}

func (b *ChatBuilder) validate() error {
	if b.req.Model == "" {
		return ErrModelRequired
	}
	if len(b.req.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// GetResponse executes the chat request and returns the response.
// It applies validation, telemetry, and retry logic.
func (b *ChatBuilder) GetResponse(ctx context.Context) (*ChatResponse, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	providerID := b.client.provider.ID()

	b.client.telemetry.OnRequestStart(RequestStartEvent{
		Provider: providerID,
		Model:    b.req.Model,
		Start:    start,
	})

	resp, err := b.chatWithRetry(ctx)

	usage := TokenUsage{}
	if resp != nil {
		usage = resp.Usage
	}
	b.client.telemetry.OnRequestEnd(RequestEndEvent{
		Provider: providerID,
		Model:    b.req.Model,
		Start:    start,
		End:      time.Now(),
		Usage:    usage,
		Err:      err,
	})

	return resp, err
}

func (b *ChatBuilder) chatWithRetry(ctx context.Context) (*ChatResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := b.client.provider.Chat(ctx, &b.req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay, shouldRetry := b.client.retry.NextDelay(attempt, err)
		if !shouldRetry {
			return nil, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Stream executes the chat request and returns a streaming response.
// It applies validation and telemetry.
func (b *ChatBuilder) Stream(ctx context.Context) (*ChatStream, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	providerID := b.client.provider.ID()

	b.client.telemetry.OnRequestStart(RequestStartEvent{
		Provider: providerID,
		Model:    b.req.Model,
		Start:    start,
	})

	stream, err := b.client.provider.StreamChat(ctx, &b.req)
	if err != nil {
		b.client.telemetry.OnRequestEnd(RequestEndEvent{
			Provider: providerID,
			Model:    b.req.Model,
			Start:    start,
			End:      time.Now(),
			Err:      err,
		})
		return nil, err
	}

	return wrapStreamWithTelemetry(stream, b.client.telemetry, providerID, b.req.Model, start), nil
}

// wrapStreamWithTelemetry wraps a ChatStream to emit telemetry on completion.
func wrapStreamWithTelemetry(
	stream *ChatStream,
	hook TelemetryHook,
	provider string,
	model ModelID,
	start time.Time,
) *ChatStream {
	finalCh := make(chan *ChatResponse, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(finalCh)
		defer close(errCh)

		var finalResp *ChatResponse
		var finalErr error

		finalIn, errIn := stream.Final, stream.Err
		// Both channels close once the producer is done; take the first value.
		for finalResp == nil && finalErr == nil && (finalIn != nil || errIn != nil) {
			select {
			case resp, ok := <-finalIn:
				if !ok {
					finalIn = nil
					continue
				}
				finalResp = resp
				finalCh <- resp
			case err, ok := <-errIn:
				if !ok {
					errIn = nil
					continue
				}
				if err != nil {
					finalErr = err
					errCh <- err
				}
			}
		}

		usage := TokenUsage{}
		if finalResp != nil {
			usage = finalResp.Usage
		}
		hook.OnRequestEnd(RequestEndEvent{
			Provider: provider,
			Model:    model,
			Start:    start,
			End:      time.Now(),
			Usage:    usage,
			Err:      finalErr,
		})
	}()

	return &ChatStream{
		Ch:    stream.Ch,
		Err:   errCh,
		Final: finalCh,
	}
}
