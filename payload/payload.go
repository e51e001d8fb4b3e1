// Package payload defines the capture data model: the immutable snapshots
// taken at the moment of a capture gesture (element, page, screenshots) and
// the CapturePayload envelope that is delivered to a backend.
//
// All snapshot types are value types constructed once and never mutated.
// Retries resend the same payload; delivery bookkeeping (attempt counts,
// scheduling) lives outside, in the queue.
package payload

import "time"

// CaptureType classifies a capture. The set is open: the built-in values
// below are conventions, any non-empty string is accepted.
type CaptureType string

const (
	TypeIssue   CaptureType = "issue"
	TypeFeature CaptureType = "feature"
	TypeLike    CaptureType = "like"
)

// Rect is an element bounding rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AncestorInfo describes one ancestor in the chain from the document root
// down to the captured element.
type AncestorInfo struct {
	Tag      string   `json:"tag"`
	ID       string   `json:"id,omitempty"`
	Classes  []string `json:"classes,omitempty"`
	Selector string   `json:"selector"`
}

// ElementContext is the structured snapshot of a captured element. Text and
// HTML are truncated to the builder's limits, the HTML is sanitized and has
// the configured attributes stripped.
type ElementContext struct {
	Selector  string            `json:"selector"`
	Tag       string            `json:"tag"`
	ID        string            `json:"id,omitempty"`
	Classes   []string          `json:"classes,omitempty"`
	Text      string            `json:"text,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Markdown  string            `json:"markdown,omitempty"`
	Rect      Rect              `json:"rect"`
	DataAttrs map[string]string `json:"dataAttrs,omitempty"`
	Ancestors []AncestorInfo    `json:"ancestors,omitempty"`
}

// PageContext is the page-level snapshot at capture time.
type PageContext struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	ScreenW    int    `json:"screenWidth,omitempty"`
	ScreenH    int    `json:"screenHeight,omitempty"`
	ViewportW  int    `json:"viewportWidth,omitempty"`
	ViewportH  int    `json:"viewportHeight,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	CapturedAt string `json:"capturedAt"` // ISO-8601
}

// NewPageContext stamps a PageContext with the capture time in ISO-8601.
func NewPageContext(url, title, referrer, userAgent string, viewportW, viewportH int, now time.Time) PageContext {
	return PageContext{
		URL:        url,
		Title:      title,
		Referrer:   referrer,
		UserAgent:  userAgent,
		ViewportW:  viewportW,
		ViewportH:  viewportH,
		CapturedAt: now.UTC().Format(time.RFC3339),
	}
}

// ScreenshotMode selects what a single screenshot covers.
type ScreenshotMode string

const (
	ModeElement   ScreenshotMode = "element"
	ModeContainer ScreenshotMode = "container"
	ModeViewport  ScreenshotMode = "viewport"
)

// ScreenshotCapture is one successfully captured raster image.
type ScreenshotCapture struct {
	DataURL string `json:"dataUrl"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int    `json:"bytes"`
}

// ScreenshotData aggregates up to three captures plus a per-mode error map.
// A nil capture pointer means "not captured" — distinct from an empty image,
// which the engine reports as an error instead.
type ScreenshotData struct {
	Element   *ScreenshotCapture        `json:"element,omitempty"`
	Container *ScreenshotCapture        `json:"container,omitempty"`
	Viewport  *ScreenshotCapture        `json:"viewport,omitempty"`
	Errors    map[ScreenshotMode]string `json:"errors,omitempty"`
}

// Get returns the capture for a mode, or nil.
func (d *ScreenshotData) Get(mode ScreenshotMode) *ScreenshotCapture {
	switch mode {
	case ModeElement:
		return d.Element
	case ModeContainer:
		return d.Container
	case ModeViewport:
		return d.Viewport
	}
	return nil
}

// Set stores a capture under a mode.
func (d *ScreenshotData) Set(mode ScreenshotMode, c *ScreenshotCapture) {
	switch mode {
	case ModeElement:
		d.Element = c
	case ModeContainer:
		d.Container = c
	case ModeViewport:
		d.Viewport = c
	}
}

// CapturePayload is the unit of delivery. Once built it is never mutated;
// retry annotations (attempt counts) belong in Metadata copies made by the
// delivery layer.
type CapturePayload struct {
	Type        CaptureType       `json:"type"`
	Comment     string            `json:"comment,omitempty"`
	Element     ElementContext    `json:"element"`
	Page        PageContext       `json:"page"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Screenshots *ScreenshotData   `json:"screenshots,omitempty"`
}
