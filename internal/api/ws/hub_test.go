package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/server/middleware"
)

// loopBroker is an in-process Broker: published payloads reach every local
// subscriber of the channel.
type loopBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newLoopBroker() *loopBroker {
	return &loopBroker{subs: make(map[string][]chan []byte)}
}

func (b *loopBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *loopBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		kept := b.subs[channel][:0]
		for _, c := range b.subs[channel] {
			if c != ch {
				kept = append(kept, c)
			}
		}
		b.subs[channel] = kept
	}
	return ch, cleanup, nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	sess        *domain.Session
	interacted  []*domain.Interaction
	items       []domain.ThreadItem
	interactErr error
	closed      bool
}

func (f *fakeRegistry) InitSession(_ context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sess == nil {
		f.sess = domain.NewSession(tenantID, "intake")
	}
	return f.sess, refCode != "", nil
}

func (f *fakeRegistry) Interact(_ context.Context, _ uuid.UUID, _ string, in *domain.Interaction) ([]domain.ThreadItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interacted = append(f.interacted, in)
	if f.interactErr != nil {
		return nil, f.interactErr
	}
	return f.items, nil
}

func (f *fakeRegistry) Close(context.Context, uuid.UUID, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// newTestConn stands up the hub behind httptest and dials it with the tenant
// already injected, the way the auth middleware would.
func newTestConn(t *testing.T, reg SessionRegistry, broker Broker) *websocket.Conn {
	t.Helper()

	hub := NewHub(reg, broker)
	tenantID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.ContextKeyTenantID, tenantID)
		hub.ServeSession(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func readEvent(t *testing.T, conn *websocket.Conn) *ServerEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev ServerEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return &ev
}

func TestServeSession_InitThenInteract(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{items: []domain.ThreadItem{
		domain.NewUserItem("hi"),
		domain.NewAssistantItem("hello", nil, 12),
	}}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{Type: FrameInitSession})
	ev := readEvent(t, conn)
	assert.Equal(t, EventSession, ev.Type)
	assert.False(t, ev.Resumed)
	require.NoError(t, domain.ValidateRefCode(ev.RefCode))

	writeFrame(t, conn, ClientFrame{
		Type:        FrameInteraction,
		Interaction: &domain.Interaction{Kind: domain.InteractionMessage, Text: "hi"},
	})
	ev = readEvent(t, conn)
	assert.Equal(t, EventItems, ev.Type)
	require.Len(t, ev.Items, 2)
	assert.Equal(t, domain.MetaAssistant, ev.Items[1].MetaRole)

	require.Len(t, reg.interacted, 1)
	assert.Equal(t, "hi", reg.interacted[0].Text)
}

func TestServeSession_ResumePassesRefCode(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{Type: FrameInitSession, RefCode: "AB12CD34"})
	ev := readEvent(t, conn)
	assert.Equal(t, EventSession, ev.Type)
	assert.True(t, ev.Resumed)
}

func TestServeSession_InteractionErrorStaysOpen(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{interactErr: domain.ErrValidation}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{Type: FrameInitSession})
	readEvent(t, conn)

	writeFrame(t, conn, ClientFrame{
		Type:        FrameInteraction,
		Interaction: &domain.Interaction{Kind: domain.InteractionMessage, Text: "hi"},
	})
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "validation", ev.ErrorCode)

	// Connection survives the rejected interaction.
	reg.mu.Lock()
	reg.interactErr = nil
	reg.items = []domain.ThreadItem{domain.NewUserItem("ok")}
	reg.mu.Unlock()

	writeFrame(t, conn, ClientFrame{
		Type:        FrameInteraction,
		Interaction: &domain.Interaction{Kind: domain.InteractionMessage, Text: "ok"},
	})
	ev = readEvent(t, conn)
	assert.Equal(t, EventItems, ev.Type)
}

func TestServeSession_MalformedFrame(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{Type: FrameInitSession})
	readEvent(t, conn)

	writeFrame(t, conn, map[string]any{"type": "no_such_frame"})
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "validation", ev.ErrorCode)
}

func TestServeSession_FirstFrameMustInit(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{
		Type:        FrameInteraction,
		Interaction: &domain.Interaction{Kind: domain.InteractionMessage, Text: "hi"},
	})
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Empty(t, reg.interacted)
}

func TestServeSession_CloseSession(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	conn := newTestConn(t, reg, newLoopBroker())

	writeFrame(t, conn, ClientFrame{Type: FrameInitSession})
	readEvent(t, conn)

	writeFrame(t, conn, ClientFrame{Type: FrameCloseSession})
	ev := readEvent(t, conn)
	assert.Equal(t, EventClosed, ev.Type)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.True(t, reg.closed)
}

func TestServeSession_FanOutToSecondConnection(t *testing.T) {
	t.Parallel()

	broker := newLoopBroker()
	reg := &fakeRegistry{items: []domain.ThreadItem{domain.NewAssistantItem("hello", nil, 5)}}

	hub := NewHub(reg, broker)
	tenantID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.ContextKeyTenantID, tenantID)
		hub.ServeSession(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	connA, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = connA.CloseNow() })
	writeFrame(t, connA, ClientFrame{Type: FrameInitSession})
	sessEv := readEvent(t, connA)

	connB, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = connB.CloseNow() })
	writeFrame(t, connB, ClientFrame{Type: FrameInitSession, RefCode: sessEv.RefCode})
	readEvent(t, connB)

	writeFrame(t, connA, ClientFrame{
		Type:        FrameInteraction,
		Interaction: &domain.Interaction{Kind: domain.InteractionMessage, Text: "hi"},
	})

	evA := readEvent(t, connA)
	evB := readEvent(t, connB)
	assert.Equal(t, EventItems, evA.Type)
	assert.Equal(t, EventItems, evB.Type, "second connection sees the same turn")
	assert.Equal(t, evA.RefCode, evB.RefCode)
}

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "init", raw: `{"type":"init_session"}`},
		{name: "init with ref code", raw: `{"type":"init_session","ref_code":"AB12CD34"}`},
		{name: "interaction", raw: `{"type":"interaction","interaction":{"kind":"message","text":"hi"}}`},
		{name: "close", raw: `{"type":"close_session"}`},
		{name: "unknown type", raw: `{"type":"bogus"}`, wantErr: true},
		{name: "missing type", raw: `{"ref_code":"AB12CD34"}`, wantErr: true},
		{name: "extra field", raw: `{"type":"init_session","admin":true}`, wantErr: true},
		{name: "interaction not object", raw: `{"type":"interaction","interaction":"hi"}`, wantErr: true},
		{name: "not JSON", raw: `{{{`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			frame, err := decodeFrame([]byte(tc.raw))
			if tc.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, frame.Type)
		})
	}
}
