package qianfan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/qianfan-go/internal/transport"
	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// openStream establishes a streaming call: it runs the same recovery loop as
// a non-streaming send, classifying the first event before handing the stream
// to the caller, so token refresh, endpoint refresh and retryable platform
// errors restart the stream instead of surfacing mid-read.
//
// The retry timeout bounds establishment only; once the first event is in,
// the stream lives until [DONE], an error, cancellation or Close.
func (p *pipeline) openStream(ctx context.Context, base *BaseRequest, prep prepFunc) (*rawStream, error) {
	started := time.Now()
	capability := string(p.capability)

	fail := func(err error) (*rawStream, error) {
		p.rt.metrics.ObserveRequest(capability, "error", time.Since(started))
		return nil, err
	}

	c, err := p.newCall(ctx, base, prep, true)
	if err != nil {
		return fail(err)
	}

	// The request context must outlive establishment because it feeds the
	// body for the whole consumption, so the establishment deadline is a
	// watchdog, not a context deadline.
	sctx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var watchdog *time.Timer
	if c.policy.Timeout > 0 {
		watchdog = time.AfterFunc(c.policy.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	abort := func(err error) (*rawStream, error) {
		if watchdog != nil {
			watchdog.Stop()
		}
		cancel()
		if timedOut.Load() && errors.Is(err, context.Canceled) {
			err = context.DeadlineExceeded
		}
		return fail(err)
	}

	if err := p.acquire(sctx, c); err != nil {
		return abort(err)
	}
	events, err := p.sendStream(sctx, c)
	if err != nil {
		p.release(c)
		return abort(err)
	}
	if watchdog != nil {
		watchdog.Stop()
	}

	p.rt.metrics.ObserveRequest(capability, "ok", time.Since(started))
	return &rawStream{p: p, c: c, events: events, cancel: cancel}, nil
}

// sendStream runs the attempt loop for stream establishment. The first event
// is received, classified and pushed back, so a stream the caller gets has
// already survived classification.
func (p *pipeline) sendStream(ctx context.Context, c *call) (*transport.EventStream, error) {
	capability := string(p.capability)
	for {
		req := c.request()
		if !c.cfg.NoAuth {
			if err := p.rt.auth.Authorize(ctx, c.creds, req); err != nil {
				return nil, err
			}
		}

		events, resp, err := p.rt.transport.Stream(ctx, req)
		var v verdict
		var reason string
		var aerr error
		switch {
		case err != nil:
			v, reason, aerr = classify(nil, err)
		case resp != nil:
			// The server answered with a JSON body instead of a stream,
			// normally an error envelope.
			v, reason, aerr = classify(resp, nil)
			if v == verdictOK {
				v, reason = verdictFatal, "malformed"
				aerr = &qferr.MalformedResponseError{
					Reason:  "expected an event stream, got a json body",
					Snippet: snippet(resp.Body),
				}
			}
		default:
			ev, rerr := events.Recv()
			switch {
			case rerr == io.EOF:
				events.Close()
				v, reason = verdictFatal, "malformed"
				aerr = &qferr.MalformedResponseError{Reason: "event stream ended before the first event"}
			case rerr != nil:
				events.Close()
				v, reason, aerr = classify(nil, rerr)
			case ev.ErrorCode != 0:
				events.Close()
				v, reason, aerr = classify(ev, nil)
			default:
				events.Unread(ev)
				p.rt.metrics.RecordAttempt(capability, "ok")
				return events, nil
			}
		}

		p.rt.metrics.RecordAttempt(capability, reason)
		if rerr := p.recover(ctx, c, v, reason, aerr); rerr != nil {
			return nil, rerr
		}
	}
}

// rawStream is the pipeline's half of an open stream: the event source plus
// the state needed to settle the token budget when the stream ends.
type rawStream struct {
	p      *pipeline
	c      *call
	events *transport.EventStream
	cancel context.CancelFunc

	usage   Usage
	settled bool
}

// next returns the next event envelope. It maps the platform's terminators to
// io.EOF and settles the token budget exactly once, on whichever end the
// stream meets first.
func (r *rawStream) next() (*transport.Response, error) {
	ev, err := r.events.Recv()
	if err != nil {
		if errors.Is(err, qferr.ErrStreamClosed) {
			return nil, err
		}
		r.settle()
		return nil, err
	}
	if ev.ErrorCode != 0 {
		r.settle()
		r.events.Close()
		return nil, &qferr.APIError{StatusCode: ev.StatusCode, Code: ev.ErrorCode, Msg: ev.ErrorMsg}
	}

	var probe streamProbe
	if json.Unmarshal(ev.Body, &probe) == nil && probe.Usage.TotalTokens > 0 {
		r.usage = probe.Usage
	}
	r.p.rt.metrics.RecordStreamEvent(string(r.p.capability))
	return ev, nil
}

// settle reconciles the token budget and flushes usage metrics. Idempotent;
// runs on EOF, on error and on Close, whichever comes first.
func (r *rawStream) settle() {
	if r.settled {
		return
	}
	r.settled = true
	r.p.settleTokens(r.c, r.usage)
	r.p.rt.metrics.AddTokens(string(r.p.capability), r.usage.PromptTokens, r.usage.CompletionTokens)
	r.cancel()
}

func (r *rawStream) close() error {
	r.settle()
	return r.events.Close()
}

// Stream delivers the partial responses of one streaming call in server
// order. Recv returns io.EOF after the final event and qferr.ErrStreamClosed
// after Close. Not safe for concurrent Recv.
type Stream[T any] struct {
	raw  *rawStream
	fill func(ev *transport.Response) (*T, error)
}

// envelopePtr constrains a response pointer so streamOf can decode into it.
type envelopePtr[T any] interface {
	*T
	envelope
}

func streamOf[T any, PT envelopePtr[T]](raw *rawStream) *Stream[T] {
	return &Stream[T]{
		raw: raw,
		fill: func(ev *transport.Response) (*T, error) {
			out := new(T)
			if err := decodeInto(ev, PT(out)); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// Recv blocks until the next partial response arrives.
func (s *Stream[T]) Recv() (*T, error) {
	ev, err := s.raw.next()
	if err != nil {
		return nil, err
	}
	return s.fill(ev)
}

// Close releases the stream's connection. Pending Recv calls return
// promptly; further Recv calls return qferr.ErrStreamClosed.
func (s *Stream[T]) Close() error {
	return s.raw.close()
}
