package screenshot

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// maskStyleID names the single injected style element. The element is
// content-replaced on every SetMask call, never appended twice.
const maskStyleID = "__anyclick_mask"

// RodSurface implements Surface over a live rod page.
type RodSurface struct {
	page *rod.Page
}

// NewRodSurface wraps a rod page as a capture surface.
func NewRodSurface(page *rod.Page) *RodSurface {
	return &RodSurface{page: page}
}

func (s *RodSurface) CaptureElement(ctx context.Context, selector string, quality int) ([]byte, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q: %w", selector, err)
	}
	raw, err := el.Screenshot(proto.PageCaptureScreenshotFormatJpeg, quality)
	if err != nil {
		return nil, fmt.Errorf("element screenshot %q: %w", selector, err)
	}
	return raw, nil
}

func (s *RodSurface) CaptureViewport(ctx context.Context, quality int) ([]byte, error) {
	raw, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("viewport screenshot: %w", err)
	}
	return raw, nil
}

func (s *RodSurface) SetMask(ctx context.Context, css string) error {
	_, err := s.page.Context(ctx).Eval(`(css) => {
		let el = document.getElementById('`+maskStyleID+`');
		if (!el) {
			el = document.createElement('style');
			el.id = '`+maskStyleID+`';
			document.documentElement.appendChild(el);
		}
		el.textContent = css;
	}`, css)
	if err != nil {
		return fmt.Errorf("set mask: %w", err)
	}
	return nil
}

func (s *RodSurface) RemoveMask(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => {
		const el = document.getElementById('` + maskStyleID + `');
		if (el) el.remove();
	}`)
	if err != nil {
		return fmt.Errorf("remove mask: %w", err)
	}
	return nil
}
