// Package server exposes the gateway over HTTP with an OpenAI-compatible surface.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/oai"
	"github.com/erikhoward/kirogw/telemetry"
)

// Options configures a Server.
type Options struct {
	// Client executes chat requests.
	Client *core.Client
	// Models lists the models for GET /v1/models. Optional.
	Models core.ModelLister
	// APIKey, when set, is required as a bearer token or x-api-key header.
	APIKey string
	// Health reports extra fields for GET /health. Optional.
	Health func() map[string]any
	Logger logrus.FieldLogger
	// Diagnostics receives request conversion warnings. Defaults to Logger.
	Diagnostics core.DiagnosticSink
	Now         func() time.Time
}

// Server routes OpenAI-shaped requests to a core.Client.
type Server struct {
	opts   Options
	log    logrus.FieldLogger
	engine *gin.Engine
}

// New builds a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = telemetry.NewLogrus(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{opts: opts, log: opts.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/health", s.health)
	v1 := r.Group("/v1", s.requireAPIKey())
	v1.GET("/models", s.listModels)
	v1.POST("/chat/completions", s.chatCompletions)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, oai.NewError(http.StatusNotFound, "not_found", "no route for "+c.Request.URL.Path))
	})
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	}
}

func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.APIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("x-api-key")
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				oai.NewError(http.StatusUnauthorized, "invalid_api_key", "invalid or missing API key"))
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.opts.Health != nil {
		for k, v := range s.opts.Health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listModels(c *gin.Context) {
	var models []core.ModelInfo
	if s.opts.Models != nil {
		models = s.opts.Models.Models()
	}
	c.JSON(http.StatusOK, oai.RenderModels(models, s.opts.Now().Unix()))
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	entry := s.log.WithError(err).WithField("status", status)
	var pe *core.ProviderError
	if errors.As(err, &pe) && len(pe.Body) > 0 {
		entry = entry.WithField("backend_body", string(pe.Body))
	}
	entry.Warn("chat completion failed")
	c.JSON(status, oai.NewError(status, errorCode(err, status), err.Error()))
}

func (s *Server) chatCompletions(c *gin.Context) {
	req, err := oai.DecodeRequest(c.Request.Body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	chatReq, err := oai.ToChatRequest(req, s.opts.Diagnostics)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if !req.Stream {
		resp, err := s.opts.Client.Do(c.Request.Context(), chatReq)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, oai.RenderResponse(resp, s.opts.Now().Unix()))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, err := s.opts.Client.DoStream(ctx, chatReq)
	if err != nil {
		s.writeError(c, err)
		return
	}

	includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
	s.writeStream(c, stream, req.Model, includeUsage)
}

// writeStream relays a stream as server-sent events. The caller cancels the
// stream's context on return, which stops the producer if the client left.
func (s *Server) writeStream(c *gin.Context, stream *core.ChatStream, model string, includeUsage bool) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sse := oai.NewSSEWriter(c.Writer)
	r := &oai.ChunkRenderer{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Model:   model,
		Created: s.opts.Now().Unix(),
	}

	for chunk := range stream.Ch {
		if err := sse.WriteChunk(r.Render(chunk)); err != nil {
			s.log.WithError(err).Debug("client went away")
			return
		}
	}

	select {
	case err, ok := <-stream.Err:
		if ok && err != nil {
			status := StatusFor(err)
			s.log.WithError(err).WithField("status", status).Warn("stream failed")
			sse.WriteError(oai.NewError(status, errorCode(err, status), err.Error()))
			sse.Done()
			return
		}
	case <-c.Request.Context().Done():
		return
	}

	if final, ok := <-stream.Final; ok && final != nil && includeUsage {
		sse.WriteChunk(r.Usage(final.Usage))
	}
	sse.Done()
}
