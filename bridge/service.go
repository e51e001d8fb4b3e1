package bridge

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ewjdev/anyclick/payload"
	"github.com/ewjdev/anyclick/queue"
	"github.com/ewjdev/anyclick/store"
	"github.com/ewjdev/anyclick/submit"
)

// ScreenshotFunc captures one mode on a live tab.
type ScreenshotFunc func(ctx context.Context, req ScreenshotRequest) (ScreenshotResult, error)

// SubmitFunc runs the capture-and-submit pipeline on a live tab.
type SubmitFunc func(ctx context.Context, req SubmitRequest) (SubmitResult, error)

// PopupFunc surfaces the capture UI for a tab.
type PopupFunc func(ctx context.Context, tabID string) error

// Options configures the bridge service.
type Options struct {
	// Screenshot handles SCREENSHOT_REQUEST. Nil means no browser attached.
	Screenshot ScreenshotFunc
	// Submit handles SUBMIT_REQUEST. Nil means no browser attached.
	Submit SubmitFunc
	// OpenPopup handles OPEN_POPUP. Nil acknowledges without acting.
	OpenPopup PopupFunc
	// HTTPClient forwards REFINE_PROMPT. Default: 15s timeout client.
	HTTPClient *http.Client
	// MaxBody bounds request bodies. Default: 8 MiB.
	MaxBody int64
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.MaxBody <= 0 {
		o.MaxBody = 8 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Service dispatches decoded protocol messages to the queue, the settings
// store, and the browser-bound hooks. It owns the connection registry.
type Service struct {
	db       *sql.DB
	queue    *queue.Q
	registry *Registry
	opts     Options
}

func NewService(db *sql.DB, q *queue.Q, opts Options) *Service {
	opts.defaults()
	return &Service{db: db, queue: q, registry: NewRegistry(), opts: opts}
}

// Registry exposes the connection registry for the browser layer.
func (s *Service) Registry() *Registry { return s.registry }

// Handle dispatches one request. The switch covers the whole protocol;
// Decode already rejected anything else.
func (s *Service) Handle(ctx context.Context, msg Message) (any, error) {
	switch m := msg.(type) {
	case QueueAdd:
		if len(m.Payload) == 0 {
			return nil, fmt.Errorf("bridge: queue add: empty payload")
		}
		id, err := s.queue.Add(ctx, m.Payload, m.TabID)
		if err != nil {
			return nil, err
		}
		return QueueAddResult{ID: id}, nil

	case ProcessQueue:
		if err := s.queue.ProcessQueue(ctx); err != nil {
			return nil, err
		}
		return Ack{OK: true}, nil

	case ScreenshotRequest:
		if s.opts.Screenshot == nil {
			return nil, fmt.Errorf("bridge: screenshot: no browser attached")
		}
		return s.opts.Screenshot(ctx, m)

	case SubmitRequest:
		if s.opts.Submit == nil {
			return nil, fmt.Errorf("bridge: submit: no browser attached")
		}
		return s.opts.Submit(ctx, m)

	case GetSettings:
		st, err := store.LoadSettings(ctx, s.db)
		if err != nil && !errors.Is(err, store.ErrNoSettings) {
			return nil, err
		}
		res := SettingsResult{
			Enabled:        st.Enabled,
			Endpoint:       st.Endpoint,
			RefineEndpoint: st.RefineEndpoint,
			LastStatus:     st.LastStatus,
		}
		if !st.LastCaptureAt.IsZero() {
			res.LastCaptureAt = st.LastCaptureAt.Format(time.RFC3339)
		}
		return res, nil

	case Ping:
		return Pong{OK: true, Time: time.Now().UTC().Format(time.RFC3339)}, nil

	case InspectElement:
		s.registry.SetLastInspected(m.TabID, m.Selector)
		return Ack{OK: true}, nil

	case RefinePrompt:
		return s.refine(ctx, m)

	case OpenPopup:
		if s.opts.OpenPopup != nil {
			if err := s.opts.OpenPopup(ctx, m.TabID); err != nil {
				return nil, err
			}
		}
		return Ack{OK: true}, nil

	default:
		return nil, fmt.Errorf("bridge: unhandled message type %q", msg.MessageType())
	}
}

// refine forwards the prompt to the configured refine endpoint with the
// stored bearer token and relays the refined text.
func (s *Service) refine(ctx context.Context, m RefinePrompt) (RefineResult, error) {
	st, err := store.LoadSettings(ctx, s.db)
	if err != nil {
		return RefineResult{}, fmt.Errorf("bridge: refine: %w", err)
	}
	if st.RefineEndpoint == "" {
		return RefineResult{}, fmt.Errorf("bridge: refine: no endpoint configured")
	}

	body, err := json.Marshal(map[string]string{"prompt": m.Prompt, "context": m.Context})
	if err != nil {
		return RefineResult{}, fmt.Errorf("bridge: refine: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.RefineEndpoint, bytes.NewReader(body))
	if err != nil {
		return RefineResult{}, fmt.Errorf("bridge: refine: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if st.Token != "" {
		req.Header.Set("Authorization", "Bearer "+st.Token)
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return RefineResult{}, fmt.Errorf("bridge: refine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return RefineResult{}, fmt.Errorf("bridge: refine: endpoint returned %d", resp.StatusCode)
	}

	var out RefineResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RefineResult{}, fmt.Errorf("bridge: refine: decode response: %w", err)
	}
	return out, nil
}

// Router builds the HTTP surface: POST /v1/message carries the protocol,
// GET /healthz reports liveness.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/message", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, s.opts.MaxBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		msg, err := Decode(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		res, err := s.Handle(req.Context(), msg)
		if err != nil {
			s.opts.Logger.Warn("bridge: request failed", "type", msg.MessageType(), "error", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, submit.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, payload.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
