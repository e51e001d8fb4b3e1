package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ewjdev/anyclick/payload"
)

// Adapter delivers a built payload to a backend. Implementations throw on
// failure and carry no retry logic — retry is the queue's responsibility.
type Adapter interface {
	Submit(ctx context.Context, p *payload.CapturePayload) error
}

// SubmissionError wraps a transport or HTTP-status failure. The queue path
// retries it with back-off; the direct path surfaces it unchanged.
type SubmissionError struct {
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("submit: endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("submit: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// HTTPAdapter POSTs the payload as JSON with optional bearer auth.
type HTTPAdapter struct {
	endpoint string
	token    string
	client   *http.Client
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithToken sets the bearer token attached to every submission.
func WithToken(token string) HTTPOption {
	return func(a *HTTPAdapter) { a.token = token }
}

// WithTimeout sets the submission timeout. Default: 15s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) { a.client.Timeout = d }
}

// NewHTTPAdapter creates an adapter targeting endpoint.
func NewHTTPAdapter(endpoint string, opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *HTTPAdapter) Submit(ctx context.Context, p *payload.CapturePayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("submit: marshal: %w", err)
	}
	return a.SubmitRaw(ctx, body)
}

// SubmitRaw delivers already-serialized payload JSON. The queue uses this to
// resend the exact bytes it persisted.
func (a *HTTPAdapter) SubmitRaw(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SubmissionError{StatusCode: resp.StatusCode}
	}
	return nil
}
