// Package screenshot rasterizes a capture target, its container, or the
// viewport, bounded by a byte budget and a capture timeout.
//
// The engine never fails as a whole: each mode produces either a capture or
// an error, and callers receive partial data plus a per-mode error map.
// Modes are captured strictly sequentially so masking state never
// interleaves and peak memory stays bounded.
package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/ewjdev/anyclick/payload"
)

// Capture failure kinds. All are non-fatal: a failure in one mode never
// aborts the others.
var (
	// ErrCannotCapture marks content whose CSS/structure prevents
	// rasterization (gradient text, certain SVG): the render returned an
	// empty or near-empty image.
	ErrCannotCapture = errors.New("screenshot: element cannot be captured")
	// ErrCaptureTimeout marks a render that exceeded the time budget.
	ErrCaptureTimeout = errors.New("screenshot: capture timed out")
	// ErrNotSupported marks a surface with no raster capability.
	ErrNotSupported = errors.New("screenshot: capture not supported")
)

// Surface abstracts the rendering host (a rod page in production, a fake in
// tests). Implementations return encoded JPEG/PNG bytes.
type Surface interface {
	// CaptureElement renders the element matched by selector.
	CaptureElement(ctx context.Context, selector string, quality int) ([]byte, error)
	// CaptureViewport renders the visible viewport.
	CaptureViewport(ctx context.Context, quality int) ([]byte, error)
	// SetMask installs the masking style sheet (replacing any previous
	// content) and RemoveMask reverts it.
	SetMask(ctx context.Context, css string) error
	RemoveMask(ctx context.Context) error
}

// Options tunes the engine.
type Options struct {
	// Timeout bounds a single mode's render. Default: 5s.
	Timeout time.Duration
	// MaxBytes is the per-capture byte budget. Default: 1 MiB.
	MaxBytes int
	// StartQuality, QualityStep and QualityFloor drive the bounded
	// quality-reduction loop. Defaults: 90, 15, 20.
	StartQuality int
	QualityStep  int
	QualityFloor int
	// MaskSelectors are hidden behind the mask color during capture.
	// Default: password inputs, credit-card fields, explicit opt-ins.
	MaskSelectors []string
	// MaskColor is the solid mask fill. Default: #1f2430.
	MaskColor string
	// MinImageBytes under which a result counts as empty. Default: 128.
	MinImageBytes int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// DefaultMaskSelectors cover the fields that must never appear in a capture.
var DefaultMaskSelectors = []string{
	`input[type="password"]`,
	`input[autocomplete="cc-number"]`,
	`input[autocomplete="cc-csc"]`,
	`input[name*="card"]`,
	`[data-anyclick-mask]`,
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 1 << 20
	}
	if o.StartQuality <= 0 {
		o.StartQuality = 90
	}
	if o.QualityStep <= 0 {
		o.QualityStep = 15
	}
	if o.QualityFloor <= 0 {
		o.QualityFloor = 20
	}
	if len(o.MaskSelectors) == 0 {
		o.MaskSelectors = DefaultMaskSelectors
	}
	if o.MaskColor == "" {
		o.MaskColor = "#1f2430"
	}
	if o.MinImageBytes <= 0 {
		o.MinImageBytes = 128
	}
}

// Engine captures screenshots within budgets.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	opts.defaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}
}

// Request selects what to capture. ContainerSelector may be empty, in which
// case a requested container mode reports ErrCannotCapture.
type Request struct {
	TargetSelector    string
	ContainerSelector string
	Modes             []payload.ScreenshotMode
}

// CaptureAll captures the requested modes strictly in order and aggregates
// results. It never returns an error: failures land in the error map.
func (e *Engine) CaptureAll(ctx context.Context, surface Surface, req Request) *payload.ScreenshotData {
	data := &payload.ScreenshotData{Errors: map[payload.ScreenshotMode]string{}}
	if surface == nil {
		for _, mode := range req.Modes {
			data.Errors[mode] = ErrNotSupported.Error()
		}
		return data
	}

	for _, mode := range req.Modes {
		capture, err := e.captureMode(ctx, surface, mode, req)
		if err != nil {
			e.logger.Warn("screenshot: mode failed", "mode", mode, "error", err)
			data.Errors[mode] = err.Error()
			continue
		}
		data.Set(mode, capture)
	}
	if len(data.Errors) == 0 {
		data.Errors = nil
	}
	return data
}

// Capture captures a single mode.
func (e *Engine) Capture(ctx context.Context, surface Surface, mode payload.ScreenshotMode, req Request) (*payload.ScreenshotCapture, error) {
	if surface == nil {
		return nil, ErrNotSupported
	}
	return e.captureMode(ctx, surface, mode, req)
}

func (e *Engine) captureMode(ctx context.Context, surface Surface, mode payload.ScreenshotMode, req Request) (*payload.ScreenshotCapture, error) {
	var shoot func(ctx context.Context, quality int) ([]byte, error)

	switch mode {
	case payload.ModeElement:
		if req.TargetSelector == "" {
			return nil, fmt.Errorf("%w: no target selector", ErrCannotCapture)
		}
		sel := req.TargetSelector
		shoot = func(ctx context.Context, q int) ([]byte, error) {
			return surface.CaptureElement(ctx, sel, q)
		}
	case payload.ModeContainer:
		if req.ContainerSelector == "" {
			return nil, fmt.Errorf("%w: no container resolved", ErrCannotCapture)
		}
		sel := req.ContainerSelector
		shoot = func(ctx context.Context, q int) ([]byte, error) {
			return surface.CaptureElement(ctx, sel, q)
		}
	case payload.ModeViewport:
		shoot = surface.CaptureViewport
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrCannotCapture, mode)
	}

	// Mask, capture inside the same window, revert. The revert runs even
	// when the capture fails so the live page is never left altered.
	maskCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	if err := surface.SetMask(maskCtx, MaskCSS(e.opts.MaskSelectors, e.opts.MaskColor)); err != nil {
		e.logger.Warn("screenshot: masking failed, capturing unmasked is not allowed", "error", err)
		return nil, fmt.Errorf("%w: masking failed", ErrCannotCapture)
	}
	defer func() {
		if err := surface.RemoveMask(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("screenshot: unmask failed", "error", err)
		}
	}()

	return e.captureWithBudget(maskCtx, shoot)
}

// RefreshViewport re-captures the viewport portion of a serialized payload
// so a delayed delivery carries the current page state instead of the one
// from capture time. The element and container shots are left as captured.
func (e *Engine) RefreshViewport(ctx context.Context, surface Surface, raw []byte) ([]byte, error) {
	var p payload.CapturePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("screenshot: refresh: %w", err)
	}

	shot, err := e.Capture(ctx, surface, payload.ModeViewport, Request{})
	if err != nil {
		return nil, err
	}
	if p.Screenshots == nil {
		p.Screenshots = &payload.ScreenshotData{}
	}
	p.Screenshots.Set(payload.ModeViewport, shot)
	delete(p.Screenshots.Errors, payload.ModeViewport)

	out, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("screenshot: refresh: %w", err)
	}
	return out, nil
}

// captureWithBudget runs the bounded quality-reduction loop: capture at
// decreasing quality until the byte budget is met or the floor is reached.
// The iteration count is fixed up front (rounding up so the floor itself is
// always attempted even when the step does not divide the span), so the loop
// provably terminates.
func (e *Engine) captureWithBudget(ctx context.Context, shoot func(context.Context, int) ([]byte, error)) (*payload.ScreenshotCapture, error) {
	span := e.opts.StartQuality - e.opts.QualityFloor
	maxIters := (span+e.opts.QualityStep-1)/e.opts.QualityStep + 1

	var last *payload.ScreenshotCapture
	quality := e.opts.StartQuality

	for i := 0; i < maxIters; i++ {
		raw, err := e.timeboxed(ctx, shoot, quality)
		if err != nil {
			return nil, err
		}

		capture, err := e.decode(raw)
		if err != nil {
			return nil, err
		}
		last = capture

		if capture.Bytes <= e.opts.MaxBytes {
			return capture, nil
		}

		quality -= e.opts.QualityStep
		if quality < e.opts.QualityFloor {
			quality = e.opts.QualityFloor
		}
		e.logger.Debug("screenshot: over budget, reducing quality",
			"bytes", capture.Bytes, "budget", e.opts.MaxBytes, "next_quality", quality)
	}

	// Floor reached while still over budget: return the smallest result.
	return last, nil
}

// timeboxed races the render against the timeout. A render finishing after
// the deadline keeps running on its goroutine but its result is discarded.
func (e *Engine) timeboxed(ctx context.Context, shoot func(context.Context, int) ([]byte, error), quality int) ([]byte, error) {
	type result struct {
		raw []byte
		err error
	}
	ch := make(chan result, 1)

	go func() {
		raw, err := shoot(ctx, quality)
		ch <- result{raw, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrCaptureTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrCannotCapture, res.err)
		}
		return res.raw, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrCaptureTimeout
		}
		return nil, ctx.Err()
	}
}

// decode validates the image bytes and builds the capture record. Empty or
// near-empty output is a distinct failure: the element cannot be captured.
func (e *Engine) decode(raw []byte) (*payload.ScreenshotCapture, error) {
	if len(raw) < e.opts.MinImageBytes {
		return nil, ErrCannotCapture
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return nil, ErrCannotCapture
	}
	return &payload.ScreenshotCapture{
		DataURL: "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(raw),
		Width:   cfg.Width,
		Height:  cfg.Height,
		Bytes:   len(raw),
	}, nil
}
