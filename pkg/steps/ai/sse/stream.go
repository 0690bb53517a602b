// Package sse reads server-sent event streams from provider responses.
//
// A Stream moves through opening, streaming and one of done or errored.
// Open performs the opening checks, Run drives the rest.
package sse

import (
	"bufio"
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateOpening State = iota
	StateStreaming
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DoneSentinel is the data payload that terminates OpenAI-style streams.
const DoneSentinel = "[DONE]"

const maxLineSize = 1024 * 1024

// Event is one dispatched server-sent event.
type Event struct {
	Event string
	Data  string
	ID    string
	Retry int
}

// Handler is called for every event carrying data. Returning done ends the
// stream successfully.
type Handler func(ev Event) (done bool, err error)

type Stream struct {
	mu    sync.Mutex
	state State
	resp  *http.Response
	err   error
}

// Open validates a response before any event is read. Non-2xx statuses and
// JSON bodies are surfaced as *engine.HTTPError with the body attached.
func Open(resp *http.Response) (*Stream, error) {
	s := &Stream{state: StateOpening, resp: resp}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s, s.fail(readError(resp))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
	case "application/json":
		return s, s.fail(readError(resp))
	default:
		_ = resp.Body.Close()
		return s, s.fail(errors.Errorf("unexpected content type %q for event stream", resp.Header.Get("Content-Type")))
	}

	s.setState(StateStreaming)
	return s, nil
}

func readError(resp *http.Response) error {
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read error response")
	}
	return engine.NewHTTPError(resp.StatusCode, body)
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Stream) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateErrored
	s.err = err
	return err
}

// Run reads events until the handler reports done, the body ends, or ctx is
// cancelled. The response body is always closed on return.
//
// Ping events and events without data are skipped. A data payload equal to
// DoneSentinel ends the stream without reaching the handler. A body that
// ends before that yields engine.ErrPrematureClose.
func (s *Stream) Run(ctx context.Context, handler Handler) error {
	if st := s.State(); st != StateStreaming {
		if err := s.Err(); err != nil {
			return err
		}
		return errors.Errorf("stream is %s", st)
	}

	body := s.resp.Body
	finished := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-finished:
		}
	}()
	defer func() {
		close(finished)
		wg.Wait()
		_ = body.Close()
	}()

	reader := bufio.NewReaderSize(body, 64*1024)
	var pending Event
	var data []string
	eventCount := 0

	dispatch := func() (bool, error) {
		defer func() {
			pending = Event{}
			data = data[:0]
		}()
		if len(data) == 0 {
			return false, nil
		}
		pending.Data = strings.Join(data, "\n")
		if pending.Event == "ping" || strings.TrimSpace(pending.Data) == "" {
			return false, nil
		}
		if strings.TrimSpace(pending.Data) == DoneSentinel {
			return true, nil
		}
		eventCount++
		log.Trace().Str("event", pending.Event).Int("event_number", eventCount).Msg("dispatching stream event")
		return handler(pending)
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(ctx.Err())
			}
			if err == io.EOF {
				// flush an event that was not followed by a blank line
				done, herr := dispatch()
				if herr != nil {
					return s.fail(herr)
				}
				if done {
					s.setState(StateDone)
					return nil
				}
				log.Debug().Int("total_events_processed", eventCount).Msg("stream closed before terminal event")
				return s.fail(engine.ErrPrematureClose)
			}
			return s.fail(errors.Wrap(err, "read event stream"))
		}

		if line == "" {
			done, herr := dispatch()
			if herr != nil {
				return s.fail(herr)
			}
			if done {
				s.setState(StateDone)
				return nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			pending.Event = value
		case "id":
			pending.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				pending.Retry = n
			}
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if sb.Len() > 0 && err == io.EOF {
				return sb.String(), nil
			}
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > maxLineSize {
			return "", errors.New("event stream line too long")
		}
		if !isPrefix {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
	}
}
