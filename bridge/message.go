// Package bridge carries the message protocol between capture surfaces
// (injected page scripts, popup UI, external tools) and the host service,
// and exposes it over HTTP.
//
// The protocol is a closed tagged union: every request carries a "type"
// discriminator and decoding is exhaustive. An unknown type is an error,
// never a silently ignored default.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ewjdev/anyclick/payload"
)

// Type discriminates request messages.
type Type string

const (
	TypeQueueAdd          Type = "QUEUE_ADD"
	TypeProcessQueue      Type = "PROCESS_QUEUE"
	TypeScreenshotRequest Type = "SCREENSHOT_REQUEST"
	TypeSubmitRequest     Type = "SUBMIT_REQUEST"
	TypeGetSettings       Type = "GET_SETTINGS"
	TypePing              Type = "PING"
	TypeInspectElement    Type = "INSPECT_ELEMENT"
	TypeRefinePrompt      Type = "REFINE_PROMPT"
	TypeOpenPopup         Type = "OPEN_POPUP"
)

// Message is a decoded request.
type Message interface {
	MessageType() Type
}

// QueueAdd enqueues a serialized capture payload for durable delivery.
type QueueAdd struct {
	Payload json.RawMessage `json:"payload"`
	TabID   string          `json:"tabId,omitempty"`
}

// ProcessQueue triggers an ad-hoc drain of the submission queue.
type ProcessQueue struct{}

// ScreenshotRequest captures one mode for an element on a tab.
type ScreenshotRequest struct {
	TabID    string                 `json:"tabId"`
	Selector string                 `json:"selector"`
	Mode     payload.ScreenshotMode `json:"mode"`
}

// SubmitRequest runs the full capture-and-submit pipeline for an element.
type SubmitRequest struct {
	TabID    string          `json:"tabId"`
	Selector string          `json:"selector"`
	Type     string          `json:"captureType"`
	Comment  string          `json:"comment,omitempty"`
	Deferred bool            `json:"deferred,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// GetSettings reads the persisted settings.
type GetSettings struct{}

// Ping checks liveness.
type Ping struct{}

// InspectElement records an element as the tab's current inspection target.
type InspectElement struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
}

// RefinePrompt forwards a rough user comment to the refine endpoint and
// returns the improved text.
type RefinePrompt struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// OpenPopup asks the host to surface the capture UI for a tab.
type OpenPopup struct {
	TabID string `json:"tabId"`
}

func (QueueAdd) MessageType() Type          { return TypeQueueAdd }
func (ProcessQueue) MessageType() Type      { return TypeProcessQueue }
func (ScreenshotRequest) MessageType() Type { return TypeScreenshotRequest }
func (SubmitRequest) MessageType() Type     { return TypeSubmitRequest }
func (GetSettings) MessageType() Type       { return TypeGetSettings }
func (Ping) MessageType() Type              { return TypePing }
func (InspectElement) MessageType() Type    { return TypeInspectElement }
func (RefinePrompt) MessageType() Type      { return TypeRefinePrompt }
func (OpenPopup) MessageType() Type         { return TypeOpenPopup }

// Decode parses a request envelope. The type switch is exhaustive over the
// protocol; any other discriminator fails.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("bridge: decode envelope: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch envelope.Type {
	case TypeQueueAdd:
		msg, err = decodeAs[QueueAdd](data)
	case TypeProcessQueue:
		msg, err = decodeAs[ProcessQueue](data)
	case TypeScreenshotRequest:
		msg, err = decodeAs[ScreenshotRequest](data)
	case TypeSubmitRequest:
		msg, err = decodeAs[SubmitRequest](data)
	case TypeGetSettings:
		msg, err = decodeAs[GetSettings](data)
	case TypePing:
		msg, err = decodeAs[Ping](data)
	case TypeInspectElement:
		msg, err = decodeAs[InspectElement](data)
	case TypeRefinePrompt:
		msg, err = decodeAs[RefinePrompt](data)
	case TypeOpenPopup:
		msg, err = decodeAs[OpenPopup](data)
	case "":
		return nil, fmt.Errorf("bridge: missing message type")
	default:
		return nil, fmt.Errorf("bridge: unknown message type %q", envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: decode %s: %w", envelope.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Response payloads, one per request type that returns data.

// Ack is the empty success response.
type Ack struct {
	OK bool `json:"ok"`
}

// Pong answers Ping.
type Pong struct {
	OK   bool   `json:"ok"`
	Time string `json:"time"`
}

// QueueAddResult carries the generated queue item ID.
type QueueAddResult struct {
	ID string `json:"id"`
}

// SettingsResult mirrors the persisted settings, token elided.
type SettingsResult struct {
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint"`
	RefineEndpoint string `json:"refineEndpoint,omitempty"`
	LastCaptureAt  string `json:"lastCaptureAt,omitempty"`
	LastStatus     string `json:"lastStatus,omitempty"`
}

// ScreenshotResult carries one captured mode.
type ScreenshotResult struct {
	Mode    payload.ScreenshotMode `json:"mode"`
	DataURL string                 `json:"dataUrl,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// SubmitResult reports the outcome of a SubmitRequest.
type SubmitResult struct {
	QueueID string `json:"queueId,omitempty"`
	Direct  bool   `json:"direct"`
}

// RefineResult carries the refined prompt text.
type RefineResult struct {
	Refined string `json:"refined"`
}
