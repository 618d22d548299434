package kiro

import (
	"context"
	"io"
	"net/http"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers/kiro/eventstream"
)

// streamer drives one streaming response.
type streamer struct {
	asm   *assembler
	model core.ModelID
	id    string
}

// run decodes resp and sends translated chunks on chunkCh. Once chunkCh is
// closed exactly one of errCh or finalCh receives a value.
func (s *streamer) run(
	ctx context.Context,
	resp *http.Response,
	chunkCh chan<- core.ChatChunk,
	errCh chan<- error,
	finalCh chan<- *core.ChatResponse,
) {
	defer resp.Body.Close()
	defer close(errCh)
	defer close(finalCh)

	cause := s.pump(ctx, resp, chunkCh)
	if ctx.Err() != nil {
		close(chunkCh)
		errCh <- ctx.Err()
		return
	}

	tail, err := s.asm.Finish(cause)
	if err == nil {
		for _, c := range tail {
			if !s.send(ctx, chunkCh, c) {
				close(chunkCh)
				errCh <- ctx.Err()
				return
			}
		}
	}
	close(chunkCh)

	if err != nil {
		errCh <- err
		return
	}
	finalCh <- s.asm.Response(s.id, s.model)
}

// pump feeds every event to the assembler and returns the error that ended
// the body early, or nil on a clean end.
func (s *streamer) pump(ctx context.Context, resp *http.Response, chunkCh chan<- core.ChatChunk) error {
	if isJSON(resp.Header.Get("Content-Type")) {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return classifyStreamError(ctx, err)
		}
		events, err := aggregatedEvents(data)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.feed(ctx, ev, chunkCh); err != nil {
				return err
			}
		}
		return nil
	}

	dec := eventstream.NewDecoder(resp.Body)
	for ev, err := range dec.All() {
		if err != nil {
			return classifyStreamError(ctx, err)
		}
		if err := s.feed(ctx, ev, chunkCh); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamer) feed(ctx context.Context, ev eventstream.Event, chunkCh chan<- core.ChatChunk) error {
	chunks, err := s.asm.Feed(ev)
	if err != nil {
		return classifyStreamError(ctx, err)
	}
	for _, c := range chunks {
		if !s.send(ctx, chunkCh, c) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *streamer) send(ctx context.Context, chunkCh chan<- core.ChatChunk, c core.ChatChunk) bool {
	select {
	case chunkCh <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
