package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// DoneSentinel terminates a provider stream
const DoneSentinel = "[DONE]"

// Decoder turns raw SSE bytes into event payloads.
// Partial lines (and any partial UTF-8 sequence in them) are held until the
// rest of the line arrives, so chunk boundaries never split a payload.
type Decoder struct {
	pending []byte
	data    [][]byte
}

// Feed consumes one chunk and returns every event completed by it
func (d *Decoder) Feed(chunk []byte) []string {
	d.pending = append(d.pending, chunk...)

	var events []string
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(d.pending[:i], []byte("\r"))
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
		d.pending = d.pending[i+1:]
	}

	// Release the consumed prefix
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events
}

// Flush dispatches whatever is buffered at end of input
func (d *Decoder) Flush() []string {
	var events []string
	if len(d.pending) > 0 {
		line := bytes.TrimSuffix(d.pending, []byte("\r"))
		d.pending = nil
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}
	if ev, ok := d.dispatch(); ok {
		events = append(events, ev)
	}
	return events
}

func (d *Decoder) processLine(line []byte) (string, bool) {
	if len(line) == 0 {
		return d.dispatch()
	}
	if line[0] == ':' {
		return "", false // comment / keepalive
	}

	field, value, found := bytes.Cut(line, []byte(":"))
	if !found || string(field) != "data" {
		return "", false
	}
	value = bytes.TrimPrefix(value, []byte(" "))

	// Providers that omit the blank separator still get [DONE] recognized
	if string(value) == DoneSentinel && len(d.data) == 0 {
		return DoneSentinel, true
	}

	d.data = append(d.data, append([]byte(nil), value...))
	return "", false
}

func (d *Decoder) dispatch() (string, bool) {
	if len(d.data) == 0 {
		return "", false
	}
	payload := string(bytes.Join(d.data, []byte("\n")))
	d.data = nil
	return payload, true
}

// Event is one decoded payload or a terminal read error
type Event struct {
	Data string
	Err  error
}

// StreamEvents runs the decoder stage: it reads r until EOF and sends each
// payload on the returned channel, which is closed when input ends.
func StreamEvents(ctx context.Context, r io.Reader) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var dec Decoder
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, payload := range dec.Feed(buf[:n]) {
					if !send(Event{Data: payload}) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					for _, payload := range dec.Flush() {
						if !send(Event{Data: payload}) {
							return
						}
					}
					return
				}
				send(Event{Err: err})
				return
			}
		}
	}()

	return out
}
