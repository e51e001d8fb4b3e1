package submit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/ewjdev/anyclick/capture"
	"github.com/ewjdev/anyclick/payload"
)

type countingAdapter struct {
	calls atomic.Int64
	err   error
	last  atomic.Pointer[payload.CapturePayload]
}

func (a *countingAdapter) Submit(ctx context.Context, p *payload.CapturePayload) error {
	a.calls.Add(1)
	a.last.Store(p)
	return a.err
}

type countingQueue struct {
	calls atomic.Int64
	size  atomic.Int64
}

func (q *countingQueue) Add(ctx context.Context, payloadJSON []byte, tabID string) (string, error) {
	q.calls.Add(1)
	q.size.Store(int64(len(payloadJSON)))
	return "q-1", nil
}

func testTarget(t *testing.T) (*html.Node, *html.Node) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(`<html><body><div id="card"><button id="go">Go</button></div></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	var btn *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "button" {
			btn = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if btn == nil {
		t.Fatal("test target not found")
	}
	return doc, btn
}

func testRequest(t *testing.T) Request {
	doc, btn := testTarget(t)
	return Request{
		Doc:    doc,
		Target: btn,
		Page:   payload.NewPageContext("https://x.test/", "x", "", "ua", 800, 600, time.Now()),
		Type:   payload.TypeIssue,
	}
}

func newSubmitter(adapter Adapter, queue Enqueuer, opts Options) *Submitter {
	return New(capture.NewBuilder(capture.Limits{}), nil, NewRateLimiter(time.Minute), adapter, queue, opts)
}

func TestSubmitDirect(t *testing.T) {
	adapter := &countingAdapter{}
	s := newSubmitter(adapter, nil, Options{})

	res, err := s.Submit(context.Background(), testRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	if adapter.calls.Load() != 1 {
		t.Fatalf("adapter calls = %d, want 1", adapter.calls.Load())
	}
	p := res.Payload
	if p.Element.Tag != "button" || p.Element.Selector == "" {
		t.Fatalf("element context incomplete: %+v", p.Element)
	}
	if p.Metadata["contentHash"] == "" {
		t.Fatal("content hash missing")
	}
}

func TestSubmitRateLimited(t *testing.T) {
	adapter := &countingAdapter{}
	s := newSubmitter(adapter, nil, Options{})

	if _, err := s.Submit(context.Background(), testRequest(t)); err != nil {
		t.Fatal(err)
	}
	_, err := s.Submit(context.Background(), testRequest(t))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	if adapter.calls.Load() != 1 {
		t.Fatalf("adapter calls = %d, want 1 (limited call must not reach it)", adapter.calls.Load())
	}
}

func TestSubmitFailureDoesNotStartCooldown(t *testing.T) {
	adapter := &countingAdapter{err: &SubmissionError{StatusCode: 502}}
	s := newSubmitter(adapter, nil, Options{})

	_, err := s.Submit(context.Background(), testRequest(t))
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.StatusCode != 502 {
		t.Fatalf("got %v, want SubmissionError 502", err)
	}

	// A failed submission must not arm the cooldown.
	adapter.err = nil
	if _, err := s.Submit(context.Background(), testRequest(t)); err != nil {
		t.Fatalf("retry after failure must not be rate limited: %v", err)
	}
}

func TestSubmitOversizedNeverReachesDelivery(t *testing.T) {
	adapter := &countingAdapter{}
	queue := &countingQueue{}
	s := newSubmitter(adapter, queue, Options{MaxPayloadBytes: 500_000})

	req := testRequest(t)
	req.Comment = strings.Repeat("x", 600_000)

	_, err := s.Submit(context.Background(), req)
	if !errors.Is(err, payload.ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
	if adapter.calls.Load() != 0 || queue.calls.Load() != 0 {
		t.Fatal("oversized payload must fail before any delivery")
	}

	req.Deferred = true
	if _, err := s.Submit(context.Background(), req); !errors.Is(err, payload.ErrPayloadTooLarge) {
		t.Fatalf("deferred path: got %v, want ErrPayloadTooLarge", err)
	}
	if queue.calls.Load() != 0 {
		t.Fatal("oversized payload must never be queued")
	}
}

func TestSubmitDeferred(t *testing.T) {
	queue := &countingQueue{}
	s := newSubmitter(nil, queue, Options{})

	req := testRequest(t)
	req.Deferred = true
	req.TabID = "tab-7"

	res, err := s.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.QueueID != "q-1" {
		t.Fatalf("queue id = %q", res.QueueID)
	}
	if queue.calls.Load() != 1 || queue.size.Load() == 0 {
		t.Fatal("payload must be handed to the queue serialized")
	}
}

func TestHTTPAdapterBearerAndStatus(t *testing.T) {
	var gotAuth atomic.Value
	status := atomic.Int64{}
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, WithToken("tok-1"), WithTimeout(2*time.Second))
	p := &payload.CapturePayload{Type: payload.TypeLike}

	if err := a.Submit(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if auth, _ := gotAuth.Load().(string); auth != "Bearer tok-1" {
		t.Fatalf("auth = %q", auth)
	}

	status.Store(http.StatusBadGateway)
	err := a.Submit(context.Background(), p)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("got %v, want SubmissionError 502", err)
	}
}

func TestHTTPAdapterNoTokenNoHeader(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	if err := a.SubmitRaw(context.Background(), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if auth, _ := gotAuth.Load().(string); auth != "" {
		t.Fatalf("auth header must be absent, got %q", auth)
	}
}
