package transport

import (
	"io"
	"sync"

	"github.com/launchdarkly/eventsource"
)

// EventStream reads a text/event-stream response body and yields the data
// of each dispatched event.
type EventStream struct {
	body    io.ReadCloser
	decoder *eventsource.Decoder

	mu          sync.Mutex
	lastEventID string
	closed      bool
}

func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, decoder: eventsource.NewDecoder(body)}
}

// Recv blocks until the next event with data arrives. Multi-line data is
// joined with newlines. Events carrying only an id or a retry hint are
// skipped.
func (s *EventStream) Recv() ([]byte, error) {
	for {
		evt, err := s.decoder.Decode()
		if err != nil {
			return nil, err
		}
		if id := evt.Id(); id != "" {
			s.mu.Lock()
			s.lastEventID = id
			s.mu.Unlock()
		}
		if data := evt.Data(); data != "" {
			return []byte(data), nil
		}
	}
}

// LastEventID is the id field of the most recent event, as sent by the server.
func (s *EventStream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Close releases the connection; a Recv blocked on it returns an error.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.body.Close()
}
