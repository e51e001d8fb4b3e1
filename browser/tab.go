package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"github.com/ewjdev/anyclick/payload"
)

// Tab wraps a Rod page with capture-specific setup: stealth mode and the
// gesture forwarder.
type Tab struct {
	Page    *rod.Page
	PageURL string
	TabID   string
	manager *Manager
}

// OpenTab creates a stealth tab, navigates to the URL, and waits for load.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, tabID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		TabID:   tabID,
		manager: mgr,
	}, nil
}

// HTML serialises the live document as outer HTML.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// PageContext reads URL, title, viewport, and user agent from the live
// page.
func (t *Tab) PageContext(ctx context.Context) (payload.PageContext, error) {
	res, err := t.Page.Context(ctx).Eval(`() => ({
		url: location.href,
		title: document.title,
		referrer: document.referrer,
		width: window.innerWidth,
		height: window.innerHeight,
		screenWidth: screen.width,
		screenHeight: screen.height,
		userAgent: navigator.userAgent,
	})`)
	if err != nil {
		return payload.PageContext{}, fmt.Errorf("browser: page context: %w", err)
	}
	v := res.Value
	pc := payload.NewPageContext(
		v.Get("url").Str(),
		v.Get("title").Str(),
		v.Get("referrer").Str(),
		v.Get("userAgent").Str(),
		int(v.Get("width").Int()),
		int(v.Get("height").Int()),
		time.Now(),
	)
	pc.ScreenW = int(v.Get("screenWidth").Int())
	pc.ScreenH = int(v.Get("screenHeight").Int())
	return pc, nil
}

// Attached reports whether a selector still resolves in the live document.
func (t *Tab) Attached(ctx context.Context, selector string) bool {
	res, err := t.Page.Context(ctx).Eval(
		`sel => document.querySelector(sel) !== null`, selector)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
