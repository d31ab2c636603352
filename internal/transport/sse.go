package transport

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// doneMarker is the sentinel payload the platform emits after the last event.
const doneMarker = "[DONE]"

// EventStream reads Server-Sent Events off an open response body and yields
// one envelope per event, in server order. It is not restartable and not safe
// for concurrent Recv calls. Cancelling the request context aborts the
// underlying connection, so a blocked Recv returns promptly.
type EventStream struct {
	resp   *http.Response
	reader *bufio.Reader
	pushed *Response
	closed bool
	done   bool
}

func newEventStream(resp *http.Response) *EventStream {
	return &EventStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
	}
}

// Recv blocks until the next event arrives and returns it as an envelope.
// It returns io.EOF after the [DONE] marker or a clean connection close, and
// qferr.ErrStreamClosed once Close has been called.
func (s *EventStream) Recv() (*Response, error) {
	if s.closed {
		return nil, qferr.ErrStreamClosed
	}
	if s.pushed != nil {
		ev := s.pushed
		s.pushed = nil
		return ev, nil
	}
	if s.done {
		return nil, io.EOF
	}

	var data bytes.Buffer
	for {
		// A partial line at EOF still carries content, so parse before
		// looking at the read error.
		line, err := s.reader.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			switch {
			case trimmed == "":
				// Blank line ends the event; empty accumulations (e.g. after
				// a comment or an event: line) just keep reading.
				if data.Len() > 0 {
					return s.event(data.Bytes())
				}
			case strings.HasPrefix(trimmed, ":"):
				// Comment / keep-alive.
			case strings.HasPrefix(trimmed, "data:"):
				payload := strings.TrimPrefix(trimmed, "data:")
				payload = strings.TrimPrefix(payload, " ")
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(payload)
			default:
				// event:, id:, retry: and unknown fields are ignored.
			}
		}
		if err != nil {
			if err == io.EOF {
				// Lenient tail: a final event the server never terminated
				// with a blank line is still delivered.
				s.done = true
				if data.Len() > 0 {
					return s.event(data.Bytes())
				}
				return nil, io.EOF
			}
			s.Close()
			return nil, &qferr.TransportError{Op: "stream read", Err: err}
		}
	}
}

func (s *EventStream) event(payload []byte) (*Response, error) {
	if string(payload) == doneMarker {
		s.done = true
		return nil, io.EOF
	}
	code, msg := extractError(payload)
	body := make([]byte, len(payload))
	copy(body, payload)
	return &Response{
		StatusCode: s.resp.StatusCode,
		Headers:    s.resp.Header,
		Body:       body,
		ErrorCode:  code,
		ErrorMsg:   msg,
	}, nil
}

// Unread pushes an already-received event back so the next Recv returns it.
// The pipeline uses this to classify the first event without consuming it.
func (s *EventStream) Unread(ev *Response) {
	s.pushed = ev
}

// Close releases the underlying connection. Safe to call more than once.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}
