// Package ws is the client transport: one WebSocket connection per session,
// with Redis pub/sub fanning turn results out to every instance holding a
// connection for the same refCode.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/server/middleware"
	redisstore "github.com/foyerhq/foyer/internal/store/redis"
)

// SessionRegistry is the engine surface the hub drives.
type SessionRegistry interface {
	InitSession(ctx context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, bool, error)
	Interact(ctx context.Context, tenantID uuid.UUID, refCode string, in *domain.Interaction) ([]domain.ThreadItem, error)
	Close(ctx context.Context, tenantID uuid.UUID, refCode string) error
}

// Broker is the pub/sub surface used for cross-instance fan-out.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	registry SessionRegistry
	broker   Broker
}

// NewHub creates a new WebSocket hub.
func NewHub(registry SessionRegistry, broker Broker) *Hub {
	return &Hub{registry: registry, broker: broker}
}

// conn serializes writes; turn results and fan-out arrive from different
// goroutines.
type clientConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *clientConn) writeRaw(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *clientConn) send(ctx context.Context, ev *ServerEvent) error {
	ev.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws.clientConn.send: %w", err)
	}
	return c.writeRaw(ctx, payload)
}

func (c *clientConn) sendError(ctx context.Context, refCode string, err error) {
	_ = c.send(ctx, &ServerEvent{
		Type:      EventError,
		RefCode:   refCode,
		ErrorCode: errorCodeFor(err),
		Error:     err.Error(),
	})
}

// ServeSession handles one client connection. The first frame must be
// init_session; every later frame is an interaction or close_session.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer wsConn.CloseNow()

	ctx := r.Context()
	c := &clientConn{conn: wsConn}

	_, data, err := wsConn.Read(ctx)
	if err != nil {
		return
	}
	frame, err := decodeFrame(data)
	if err != nil {
		c.sendError(ctx, "", err)
		_ = wsConn.Close(websocket.StatusPolicyViolation, "invalid frame")
		return
	}
	if frame.Type != FrameInitSession {
		c.sendError(ctx, "", fmt.Errorf("first frame must be init_session: %w", domain.ErrValidation))
		_ = wsConn.Close(websocket.StatusPolicyViolation, "not initialized")
		return
	}

	sess, resumed, err := h.registry.InitSession(ctx, tenantID, frame.RefCode)
	if err != nil {
		c.sendError(ctx, frame.RefCode, err)
		_ = wsConn.Close(websocket.StatusInternalError, "init failed")
		return
	}
	refCode := sess.RefCode

	if err := c.send(ctx, &ServerEvent{
		Type:    EventSession,
		RefCode: refCode,
		Resumed: resumed,
		Items:   sess.Thread,
	}); err != nil {
		return
	}

	channel := redisstore.SessionChannel(tenantID, refCode)
	messages, cleanup, err := h.broker.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("ref_code", refCode).Msg("websocket subscribe")
		_ = wsConn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	go func() {
		for msg := range messages {
			if writeErr := c.writeRaw(ctx, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}()

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			// Client went away; any in-flight turn still completes and
			// persists on the detached context inside the registry.
			return
		}

		frame, err := decodeFrame(data)
		if err != nil {
			c.sendError(ctx, refCode, err)
			continue
		}

		switch frame.Type {
		case FrameInteraction:
			h.handleInteraction(ctx, c, channel, tenantID, refCode, frame.Interaction)

		case FrameCloseSession:
			if err := h.registry.Close(ctx, tenantID, refCode); err != nil {
				c.sendError(ctx, refCode, err)
				continue
			}
			_ = c.send(ctx, &ServerEvent{Type: EventClosed, RefCode: refCode})
			_ = wsConn.Close(websocket.StatusNormalClosure, "session closed")
			return

		case FrameInitSession:
			c.sendError(ctx, refCode, fmt.Errorf("session already initialized: %w", domain.ErrValidation))
		}
	}
}

func (h *Hub) handleInteraction(ctx context.Context, c *clientConn, channel string, tenantID uuid.UUID, refCode string, in *domain.Interaction) {
	if in == nil {
		c.sendError(ctx, refCode, fmt.Errorf("interaction frame without payload: %w", domain.ErrValidation))
		return
	}

	items, err := h.registry.Interact(ctx, tenantID, refCode, in)
	if err != nil {
		c.sendError(ctx, refCode, err)
		return
	}

	payload, err := json.Marshal(&ServerEvent{
		Type:      EventItems,
		RefCode:   refCode,
		Items:     items,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.sendError(ctx, refCode, err)
		return
	}

	if err := h.broker.Publish(ctx, channel, payload); err != nil {
		// Fan-out is best effort; this client still gets its own result.
		log.Warn().Err(err).Str("ref_code", refCode).Msg("publish turn result")
		_ = c.writeRaw(ctx, payload)
	}
}
