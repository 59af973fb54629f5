package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RelayState is the relay's position in the stream
type RelayState int

const (
	StateStreaming RelayState = iota
	StateDone
)

// ErrStreamIncomplete means the upstream ended before the [DONE] sentinel
var ErrStreamIncomplete = errors.New("stream ended before completion")

// Relay maps provider events to output text. onDone fires exactly once with
// the accumulated text when the [DONE] sentinel arrives.
type Relay struct {
	state  RelayState
	acc    strings.Builder
	onDone func(full string)
}

// NewRelay creates a relay in the STREAMING state
func NewRelay(onDone func(full string)) *Relay {
	return &Relay{onDone: onDone}
}

// State returns the current state
func (r *Relay) State() RelayState {
	return r.state
}

// Text returns everything relayed so far
func (r *Relay) Text() string {
	return r.acc.String()
}

// Handle processes one payload and returns the delta to forward.
// Malformed JSON is fatal for the stream.
func (r *Relay) Handle(payload string) (string, error) {
	if r.state == StateDone {
		return "", nil
	}

	if payload == DoneSentinel {
		r.state = StateDone
		if r.onDone != nil {
			r.onDone(r.acc.String())
		}
		return "", nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", fmt.Errorf("malformed stream event: %w", err)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}

	delta := chunk.Choices[0].Delta.Content
	r.acc.WriteString(delta)
	return delta, nil
}

type flusher interface {
	Flush() error
}

// Pipe is the relay stage: it drains events, writes each delta to w as soon
// as it is decoded and flushes w when it supports Flush.
func (r *Relay) Pipe(ctx context.Context, events <-chan Event, w io.Writer) error {
	f, _ := w.(flusher)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if r.state == StateDone {
					return nil
				}
				return ErrStreamIncomplete
			}
			if ev.Err != nil {
				return fmt.Errorf("stream read failed: %w", ev.Err)
			}

			delta, err := r.Handle(ev.Data)
			if err != nil {
				return err
			}
			if delta != "" {
				if _, err := io.WriteString(w, delta); err != nil {
					return fmt.Errorf("client write failed: %w", err)
				}
				if f != nil {
					if err := f.Flush(); err != nil {
						return fmt.Errorf("client flush failed: %w", err)
					}
				}
			}
			if r.state == StateDone {
				return nil
			}
		}
	}
}

// RelayStream wires both stages over body
func RelayStream(ctx context.Context, body io.Reader, w io.Writer, onDone func(full string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	return NewRelay(onDone).Pipe(ctx, StreamEvents(ctx, body), w)
}
