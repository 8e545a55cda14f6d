// Stream multiplexer - frames engine events as newline-delimited JSON.
//
// Information Hiding:
// - Producer/consumer goroutines and the bounded channel between them hidden
// - Pipe lifecycle hidden: the writer is closed once, on every exit path

package orchestration

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/richinex/relay/agent"
	"github.com/richinex/relay/model"
)

// DefaultStreamBuffer is the number of events held between engine and writer.
const DefaultStreamBuffer = 16

// EventSource starts an event stream bound to ctx.
type EventSource func(ctx context.Context) iter.Seq2[agent.Event, error]

// Multiplexer turns an engine event stream into one ordered byte stream.
type Multiplexer struct {
	buffer int
	logger *slog.Logger
}

// NewMultiplexer creates a multiplexer. A non-positive buffer uses
// DefaultStreamBuffer.
func NewMultiplexer(buffer int, logger *slog.Logger) *Multiplexer {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{buffer: buffer, logger: logger.With("component", "multiplexer")}
}

// errorFrame is the last line of a stream that ended in failure.
type errorFrame struct {
	Mode  agent.StreamMode `json:"event"`
	Kind  string           `json:"kind"`
	Error string           `json:"error"`
}

// Pipe starts src and returns a reader yielding one JSON line per event in
// the order src produced them. If src fails, a trailing error frame is
// written and reads end with a model.EngineFailure. Closing the reader stops
// src. onEvent and onDone may be nil; onDone runs once, before the reader
// sees the end of the stream.
func (m *Multiplexer) Pipe(ctx context.Context, src EventSource, onEvent func(agent.Event), onDone func(error)) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan agent.Event, m.buffer)

	// Producer
	g.Go(func() error {
		defer close(events)
		for ev, err := range src(gctx) {
			if err != nil {
				return err
			}
			select {
			case events <- ev:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Consumer
	g.Go(func() error {
		enc := json.NewEncoder(pw)
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
		return nil
	})

	go func() {
		defer cancel()
		err := g.Wait()
		if onDone != nil {
			onDone(err)
		}
		if err == nil {
			pw.Close()
			return
		}

		m.logger.Debug("stream ended with error", "error", err)
		failure := model.EngineFailure(err)
		// Fails harmlessly when the reader is already gone.
		_ = json.NewEncoder(pw).Encode(errorFrame{
			Mode:  agent.StreamError,
			Kind:  model.KindEngineFailure.String(),
			Error: "engine failure",
		})
		pw.CloseWithError(failure)
	}()

	return &streamReader{PipeReader: pr, cancel: cancel}
}

type streamReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (r *streamReader) Close() error {
	r.cancel()
	return r.PipeReader.Close()
}
