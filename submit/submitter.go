package submit

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/ewjdev/anyclick/capture"
	"github.com/ewjdev/anyclick/payload"
	"github.com/ewjdev/anyclick/screenshot"
)

// Enqueuer is the deferred-delivery hook (the durable queue). It accepts the
// serialized payload and returns the queued item id.
type Enqueuer interface {
	Add(ctx context.Context, payloadJSON []byte, tabID string) (string, error)
}

// Options tunes the submitter.
type Options struct {
	// MaxPayloadBytes is the hard ceiling on the serialized payload.
	// Default: 1 MiB. Oversized payloads fail permanently.
	MaxPayloadBytes int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Submitter builds capture payloads and hands them to the adapter (direct)
// or the queue (deferred).
type Submitter struct {
	builder *capture.Builder
	engine  *screenshot.Engine
	limiter *RateLimiter
	adapter Adapter
	queue   Enqueuer
	opts    Options
}

// New creates a Submitter. queue may be nil when only direct submission is
// used; adapter may be nil when everything is deferred.
func New(builder *capture.Builder, engine *screenshot.Engine, limiter *RateLimiter, adapter Adapter, queue Enqueuer, opts Options) *Submitter {
	opts.defaults()
	return &Submitter{
		builder: builder,
		engine:  engine,
		limiter: limiter,
		adapter: adapter,
		queue:   queue,
		opts:    opts,
	}
}

// Request describes one capture to submit.
type Request struct {
	Doc     *html.Node
	Target  *html.Node
	Rect    payload.Rect
	Page    payload.PageContext
	Type    payload.CaptureType
	Comment string

	Metadata map[string]string

	// Surface enables screenshots; nil skips them. Modes selects which.
	Surface screenshot.Surface
	Modes   []payload.ScreenshotMode

	// TabID tags deferred items with their origin tab.
	TabID string
	// Deferred routes via the queue instead of the adapter.
	Deferred bool
}

// Result is the outcome of a Submit call.
type Result struct {
	Payload *payload.CapturePayload
	// QueueID is set when the payload was deferred.
	QueueID string
}

// Submit builds and delivers one capture. Capture-layer failures degrade to
// partial data; rate limiting and size violations fail before any delivery.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	if s.limiter != nil && s.limiter.IsRateLimited() {
		return nil, ErrRateLimited
	}

	p := s.buildPayload(ctx, req)

	data, err := payload.Validate(p, s.opts.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}

	if req.Deferred {
		if s.queue == nil {
			return nil, fmt.Errorf("submit: deferred submission without a queue")
		}
		id, err := s.queue.Add(ctx, data, req.TabID)
		if err != nil {
			return nil, fmt.Errorf("submit: enqueue: %w", err)
		}
		if s.limiter != nil {
			s.limiter.MarkSubmission()
		}
		return &Result{Payload: p, QueueID: id}, nil
	}

	if s.adapter == nil {
		return nil, fmt.Errorf("submit: no adapter configured")
	}
	if err := s.adapter.Submit(ctx, p); err != nil {
		return nil, err
	}
	if s.limiter != nil {
		s.limiter.MarkSubmission()
	}
	return &Result{Payload: p}, nil
}

// buildPayload composes the element snapshot, page context and screenshots.
// It never fails: unavailable pieces are simply absent.
func (s *Submitter) buildPayload(ctx context.Context, req Request) *payload.CapturePayload {
	p := &payload.CapturePayload{
		Type:     req.Type,
		Comment:  req.Comment,
		Page:     req.Page,
		Metadata: req.Metadata,
	}

	if s.builder != nil && req.Target != nil {
		p.Element = s.builder.Build(req.Doc, req.Target, req.Rect)
	}

	if s.engine != nil && req.Surface != nil && len(req.Modes) > 0 {
		shotReq := screenshot.Request{
			TargetSelector: p.Element.Selector,
			Modes:          req.Modes,
		}
		if container := capture.ResolveContainer(req.Target); container != nil {
			shotReq.ContainerSelector = capture.Selector(req.Doc, container)
		}
		p.Screenshots = s.engine.CaptureAll(ctx, req.Surface, shotReq)
	}

	if hash, err := payload.CanonicalHash(p); err == nil {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata["contentHash"] = hash
	}

	return p
}
