package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/foyerhq/foyer/internal/api/v1"
	"github.com/foyerhq/foyer/internal/domain"
)

// ---------------------------------------------------------------------------
// GET /sessions
// ---------------------------------------------------------------------------

func TestListSessions(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		open := domain.NewSession(tid, "intake")
		open.Thread = append(open.Thread,
			domain.NewUserItem("hello"),
			domain.NewAssistantItem("hi there", nil, 10),
		)
		open.Metrics = domain.RecomputeMetrics(open.Thread)

		closed := domain.NewSession(tid, "intake")
		closedAt := time.Now().UTC()
		closed.ClosedAt = &closedAt

		_, api := humatest.New(t)
		var gotLimit int
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				listRecentFunc: func(_ context.Context, tenantID uuid.UUID, limit int) ([]*domain.Session, error) {
					assert.Equal(t, tid, tenantID)
					gotLimit = limit
					return []*domain.Session{open, closed}, nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, 20, gotLimit, "default limit applies")

		var body []*v1.SessionSummary
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Len(t, body, 2)
		assert.Equal(t, open.RefCode, body[0].RefCode)
		assert.Equal(t, 1, body[0].Metrics.UserMessages)
		assert.False(t, body[0].Closed)
		assert.True(t, body[1].Closed)
	})

	t.Run("custom_limit", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				listRecentFunc: func(_ context.Context, _ uuid.UUID, limit int) ([]*domain.Session, error) {
					assert.Equal(t, 5, limit)
					return nil, nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions?limit=5")
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("limit_out_of_bounds", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{sessions: &mockSessionRepo{}}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions?limit=500")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("missing_tenant_context", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{sessions: &mockSessionRepo{}}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(context.Background(), "/sessions")
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("store_error", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				listRecentFunc: func(context.Context, uuid.UUID, int) ([]*domain.Session, error) {
					return nil, errors.New("db: connection refused")
				},
			},
		}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions")
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /sessions/{refCode}
// ---------------------------------------------------------------------------

func TestGetSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		sess := domain.NewSession(tid, "intake")
		sess.Thread = append(sess.Thread, domain.NewUserItem("hello"))
		sess.SessionData["postal_code"] = "1011AB"

		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				loadFunc: func(_ context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, error) {
					assert.Equal(t, tid, tenantID)
					assert.Equal(t, sess.RefCode, refCode)
					return sess, nil
				},
			},
		}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions/"+sess.RefCode)
		require.Equal(t, http.StatusOK, resp.Code)

		var body domain.Session
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, sess.RefCode, body.RefCode)
		require.Len(t, body.Thread, 1)
		assert.Equal(t, "1011AB", body.SessionData["postal_code"])
	})

	t.Run("invalid_ref_code", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{sessions: &mockSessionRepo{}}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions/short")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		tid := uuid.New()
		_, api := humatest.New(t)
		store := &mockDataStore{
			sessions: &mockSessionRepo{
				loadFunc: func(context.Context, uuid.UUID, string) (*domain.Session, error) {
					return nil, domain.ErrNotFound
				},
			},
		}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(tenantCtx(tid), "/sessions/AB12CD34")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("missing_tenant_context", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		store := &mockDataStore{sessions: &mockSessionRepo{}}
		v1.RegisterSessionRoutes(api, store)

		resp := api.GetCtx(context.Background(), "/sessions/AB12CD34")
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})
}
