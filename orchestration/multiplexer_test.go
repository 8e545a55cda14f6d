package orchestration

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richinex/relay/agent"
	"github.com/richinex/relay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceOf(events []agent.Event, tail error) EventSource {
	return func(ctx context.Context) iter.Seq2[agent.Event, error] {
		return func(yield func(agent.Event, error) bool) {
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
			if tail != nil {
				yield(agent.Event{}, tail)
			}
		}
	}
}

func readLines(t *testing.T, r io.Reader) ([]map[string]any, error) {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	return lines, sc.Err()
}

func TestMultiplexer_PreservesOrder(t *testing.T) {
	var events []agent.Event
	for i := range 50 {
		events = append(events, agent.Event{Mode: agent.StreamMessages, Node: "generate", Data: agent.MessageChunk{Content: strings.Repeat("x", i)}})
	}

	var seen atomic.Int32
	var doneErr error
	done := make(chan struct{})
	r := NewMultiplexer(4, nil).Pipe(t.Context(), sourceOf(events, nil),
		func(agent.Event) { seen.Add(1) },
		func(err error) { doneErr = err; close(done) })
	defer r.Close()

	lines, err := readLines(t, r)
	require.NoError(t, err)
	require.Len(t, lines, 50)
	for i, line := range lines {
		assert.Equal(t, "messages", line["event"])
		data := line["data"].(map[string]any)
		assert.Len(t, data["content"], i)
	}

	<-done
	assert.NoError(t, doneErr)
	assert.EqualValues(t, 50, seen.Load())
}

func TestMultiplexer_EmptySource(t *testing.T) {
	r := NewMultiplexer(0, nil).Pipe(t.Context(), sourceOf(nil, nil), nil, nil)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMultiplexer_SourceErrorEndsWithFrame(t *testing.T) {
	events := []agent.Event{{Mode: agent.StreamUpdates, Node: "restore"}}
	var doneErr error
	r := NewMultiplexer(0, nil).Pipe(t.Context(), sourceOf(events, errors.New("provider exploded")),
		nil, func(err error) { doneErr = err })
	defer r.Close()

	lines, err := readLines(t, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEngineFailure)

	require.Len(t, lines, 2)
	assert.Equal(t, "updates", lines[0]["event"])
	assert.Equal(t, "error", lines[1]["event"])
	assert.Equal(t, "engine failure", lines[1]["error"])
	assert.NotContains(t, lines[1]["error"], "exploded")
	assert.ErrorContains(t, doneErr, "provider exploded")
}

func TestMultiplexer_CloseStopsSource(t *testing.T) {
	stopped := make(chan struct{})
	src := func(ctx context.Context) iter.Seq2[agent.Event, error] {
		return func(yield func(agent.Event, error) bool) {
			defer close(stopped)
			for {
				select {
				case <-ctx.Done():
					yield(agent.Event{}, ctx.Err())
					return
				default:
				}
				if !yield(agent.Event{Mode: agent.StreamMessages}, nil) {
					return
				}
			}
		}
	}

	done := make(chan error, 1)
	r := NewMultiplexer(1, nil).Pipe(t.Context(), src, nil, func(err error) { done <- err })

	sc := bufio.NewScanner(r)
	require.True(t, sc.Scan())
	require.NoError(t, r.Close())

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("source was not stopped after close")
	}
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("onDone not called")
	}
}

func TestMultiplexer_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	block := func(ctx context.Context) iter.Seq2[agent.Event, error] {
		return func(yield func(agent.Event, error) bool) {
			<-ctx.Done()
			yield(agent.Event{}, ctx.Err())
		}
	}
	r := NewMultiplexer(0, nil).Pipe(ctx, block, nil, nil)
	defer r.Close()

	cancel()
	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, model.ErrEngineFailure)
	assert.ErrorIs(t, err, context.Canceled)
}
