package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/tenantcfg"
)

// Inbound frame types.
const (
	FrameInitSession  = "init_session"
	FrameInteraction  = "interaction"
	FrameCloseSession = "close_session"
)

// Outbound event types.
const (
	EventSession = "session" // init result: refCode plus full history
	EventItems   = "items"   // thread items appended by a turn
	EventClosed  = "closed"
	EventError   = "error"
)

// ClientFrame is one inbound WebSocket message.
type ClientFrame struct {
	Type        string              `json:"type"`
	RefCode     string              `json:"ref_code,omitempty"`
	Interaction *domain.Interaction `json:"interaction,omitempty"`
}

// ServerEvent is one outbound WebSocket message.
type ServerEvent struct {
	Type      string              `json:"type"`
	RefCode   string              `json:"ref_code,omitempty"`
	Resumed   bool                `json:"resumed,omitempty"`
	Items     []domain.ThreadItem `json:"items,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// clientFrameSchema rejects malformed frames before any field is trusted.
const clientFrameSchema = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["init_session", "interaction", "close_session"]},
		"ref_code": {"type": "string", "maxLength": 64},
		"interaction": {"type": "object"}
	},
	"additionalProperties": false
}`

var frameSchema = jsonschema.MustCompileString("client_frame.json", clientFrameSchema)

// decodeFrame validates raw bytes against the frame schema and decodes them.
func decodeFrame(data []byte) (*ClientFrame, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ws.decodeFrame: malformed JSON: %w", domain.ErrValidation)
	}
	if err := frameSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("ws.decodeFrame: %v: %w", err, domain.ErrValidation)
	}

	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("ws.decodeFrame: %w", domain.ErrValidation)
	}
	return &frame, nil
}

// errorCodeFor maps an error chain to the client-facing error code.
func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, tenantcfg.ErrUnknownAction):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, domain.ErrTransient):
		return "unavailable"
	default:
		return "internal"
	}
}
