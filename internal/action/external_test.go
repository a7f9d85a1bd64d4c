package action_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/action"
	"github.com/foyerhq/foyer/internal/domain"
)

func TestHTTPExternalInvoke(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotArgs map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotArgs))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ticket_id":"T-42"}`))
	}))
	t.Cleanup(srv.Close)

	ext := action.NewHTTPExternal(map[string]string{"crm": srv.URL}, 5*time.Second)

	result, err := ext.Invoke(context.Background(), "crm", "create_ticket", map[string]any{"subject": "leaky tap"})
	require.NoError(t, err)

	assert.Equal(t, "/create_ticket", gotPath)
	assert.Equal(t, "leaky tap", gotArgs["subject"])

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "T-42", m["ticket_id"])
}

func TestHTTPExternalInvoke_UnknownTarget(t *testing.T) {
	t.Parallel()

	ext := action.NewHTTPExternal(map[string]string{}, time.Second)

	_, err := ext.Invoke(context.Background(), "crm", "create_ticket", nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHTTPExternalInvoke_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ext := action.NewHTTPExternal(map[string]string{"crm": srv.URL}, time.Second)

	_, err := ext.Invoke(context.Background(), "crm", "lookup", nil)
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestHTTPExternalInvoke_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	ext := action.NewHTTPExternal(map[string]string{"crm": srv.URL}, time.Second)

	_, err := ext.Invoke(context.Background(), "crm", "lookup", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTransient)
}

func TestHTTPExternalInvoke_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	ext := action.NewHTTPExternal(map[string]string{"crm": srv.URL}, time.Second)

	result, err := ext.Invoke(context.Background(), "crm", "ping", nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}
