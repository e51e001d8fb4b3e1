package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/ewjdev/anyclick/bridge"
	"github.com/ewjdev/anyclick/browser"
	"github.com/ewjdev/anyclick/capture"
	"github.com/ewjdev/anyclick/config"
	"github.com/ewjdev/anyclick/gesture"
	"github.com/ewjdev/anyclick/payload"
	"github.com/ewjdev/anyclick/queue"
	"github.com/ewjdev/anyclick/screenshot"
	"github.com/ewjdev/anyclick/submit"
)

// app ties the capture pipeline to live tabs: gestures come in through the
// forwarder, payloads go out through the submitter and the queue.
type app struct {
	cfg *config.Config
	db  *sql.DB
	q   *queue.Q
	log *slog.Logger

	builder   *capture.Builder
	engine    *screenshot.Engine
	submitter *submit.Submitter

	mu         sync.Mutex
	manager    *browser.Manager
	tabs       map[string]*browser.Tab
	forwarders map[string]*browser.Forwarder
	detectors  map[string]*gesture.Detector
}

func newApp(cfg *config.Config, db *sql.DB, q *queue.Q, log *slog.Logger) *app {
	builder := capture.NewBuilder(capture.Limits{
		MaxTextChars: cfg.Capture.MaxTextChars,
		MaxHTMLChars: cfg.Capture.MaxHTMLChars,
		MaxAncestors: cfg.Capture.MaxAncestors,
	})
	engine := screenshot.New(screenshot.Options{
		Timeout:      cfg.Screenshot.Timeout,
		MaxBytes:     cfg.Screenshot.MaxBytes,
		StartQuality: cfg.Screenshot.StartQuality,
		QualityStep:  cfg.Screenshot.QualityStep,
		QualityFloor: cfg.Screenshot.QualityFloor,
		MaskColor:    cfg.Screenshot.MaskColor,
		Logger:       log,
	})
	limiter := submit.NewRateLimiter(cfg.Submission.Cooldown)

	var adapter submit.Adapter
	if cfg.Submission.Endpoint != "" {
		opts := []submit.HTTPOption{submit.WithTimeout(cfg.Submission.Timeout)}
		if cfg.Submission.Token != "" {
			opts = append(opts, submit.WithToken(cfg.Submission.Token))
		}
		adapter = submit.NewHTTPAdapter(cfg.Submission.Endpoint, opts...)
	}

	submitter := submit.New(builder, engine, limiter, adapter, q, submit.Options{
		MaxPayloadBytes: cfg.Submission.MaxBytes,
		Logger:          log,
	})

	return &app{
		cfg:        cfg,
		db:         db,
		q:          q,
		log:        log,
		builder:    builder,
		engine:     engine,
		submitter:  submitter,
		tabs:       make(map[string]*browser.Tab),
		forwarders: make(map[string]*browser.Forwarder),
		detectors:  make(map[string]*gesture.Detector),
	}
}

// watchPage opens a tab on the URL and wires the gesture detector to the
// capture pipeline.
func (a *app) watchPage(ctx context.Context, pageURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.manager == nil {
		a.manager = browser.NewManager(browser.Config{
			RemoteURL:  a.cfg.Browser.Remote,
			Headless:   a.cfg.Browser.Headless,
			NavTimeout: a.cfg.Browser.NavTimeout,
			Logger:     a.log,
		})
		if _, err := a.manager.Start(ctx); err != nil {
			return err
		}
	}

	tabID := fmt.Sprintf("tab-%d", len(a.tabs)+1)
	tab, err := browser.OpenTab(ctx, a.manager, pageURL, tabID)
	if err != nil {
		return err
	}

	det := gesture.New(gesture.Options{
		HoldDuration:  a.cfg.Capture.HoldDuration,
		MoveThreshold: a.cfg.Capture.MoveThreshold,
		Logger:        a.log,
	}, a.menuFunc(ctx, tabID))

	fwd := browser.NewForwarder(tab, det, a.log)
	if err := fwd.Start(ctx); err != nil {
		tab.Close()
		return err
	}

	a.tabs[tabID] = tab
	a.forwarders[tabID] = fwd
	a.detectors[tabID] = det
	a.log.Info("anyclick: watching page", "url", pageURL, "tab", tabID)
	return nil
}

// menuFunc handles a detected capture gesture: it snapshots the pending
// element and defers the payload through the queue.
func (a *app) menuFunc(ctx context.Context, tabID string) gesture.MenuFunc {
	return func(ev gesture.MenuEvent, target *gesture.Target) bool {
		a.mu.Lock()
		tab := a.tabs[tabID]
		det := a.detectors[tabID]
		fwd := a.forwarders[tabID]
		a.mu.Unlock()
		if tab == nil || det == nil || target == nil {
			return false
		}
		if ev.IsTouch && fwd != nil {
			fwd.SuppressNextContextMenu(ctx)
		}

		go func() {
			_, err := a.captureElement(ctx, tab, tabID, target.Selector, payload.TypeIssue, "", true)
			det.SubmissionResult(err)
			if err != nil {
				a.log.Warn("anyclick: capture failed", "tab", tabID, "selector", target.Selector, "error", err)
			}
		}()
		return true
	}
}

// captureElement runs the pipeline for one selector on a live tab.
func (a *app) captureElement(ctx context.Context, tab *browser.Tab, tabID, selector string, capType payload.CaptureType, comment string, deferred bool) (*submit.Result, error) {
	raw, err := tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	target := capture.Query(doc, selector)
	if target == nil {
		return nil, fmt.Errorf("element %q not found", selector)
	}

	page, err := tab.PageContext(ctx)
	if err != nil {
		a.log.Debug("anyclick: page context unavailable", "error", err)
	}

	return a.submitter.Submit(ctx, submit.Request{
		Doc:      doc,
		Target:   target,
		Page:     page,
		Type:     capType,
		Comment:  comment,
		Surface:  screenshot.NewRodSurface(tab.Page),
		Modes:    []payload.ScreenshotMode{payload.ModeElement, payload.ModeContainer, payload.ModeViewport},
		TabID:    tabID,
		Deferred: deferred,
	})
}

// refreshPayload re-captures the viewport screenshot for a queued item so a
// deferred delivery shows the page as it is now. The caller falls back to
// the stored payload on error, so a gone tab is not fatal.
func (a *app) refreshPayload(ctx context.Context, it *queue.Item) (json.RawMessage, error) {
	tab := a.tab(it.TabID)
	if tab == nil {
		return nil, fmt.Errorf("no tab %q", it.TabID)
	}
	out, err := a.engine.RefreshViewport(ctx, screenshot.NewRodSurface(tab.Page), it.Payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

func (a *app) tab(tabID string) *browser.Tab {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tabID != "" {
		return a.tabs[tabID]
	}
	// Single-tab quick mode: any tab serves.
	for _, t := range a.tabs {
		return t
	}
	return nil
}

// bridgeScreenshot serves SCREENSHOT_REQUEST over a live tab.
func (a *app) bridgeScreenshot(ctx context.Context, req bridge.ScreenshotRequest) (bridge.ScreenshotResult, error) {
	tab := a.tab(req.TabID)
	if tab == nil {
		return bridge.ScreenshotResult{}, fmt.Errorf("no tab %q", req.TabID)
	}

	mode := req.Mode
	if mode == "" {
		mode = payload.ModeElement
	}
	shot, err := a.engine.Capture(ctx, screenshot.NewRodSurface(tab.Page), mode, screenshot.Request{
		TargetSelector:    req.Selector,
		ContainerSelector: req.Selector,
	})
	if err != nil {
		return bridge.ScreenshotResult{Mode: mode, Error: err.Error()}, nil
	}
	return bridge.ScreenshotResult{Mode: mode, DataURL: shot.DataURL}, nil
}

// bridgeSubmit serves SUBMIT_REQUEST over a live tab.
func (a *app) bridgeSubmit(ctx context.Context, req bridge.SubmitRequest) (bridge.SubmitResult, error) {
	tab := a.tab(req.TabID)
	if tab == nil {
		return bridge.SubmitResult{}, fmt.Errorf("no tab %q", req.TabID)
	}

	res, err := a.captureElement(ctx, tab, req.TabID, req.Selector, payload.CaptureType(req.Type), req.Comment, req.Deferred)
	if err != nil {
		return bridge.SubmitResult{}, err
	}
	return bridge.SubmitResult{QueueID: res.QueueID, Direct: res.QueueID == ""}, nil
}

func (a *app) closeBrowser() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, fwd := range a.forwarders {
		fwd.Stop()
		delete(a.forwarders, id)
	}
	for id, tab := range a.tabs {
		tab.Close()
		delete(a.tabs, id)
	}
	if a.manager != nil {
		a.manager.Close()
		a.manager = nil
	}
}
