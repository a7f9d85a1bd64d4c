package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foyerhq/foyer/internal/domain"
)

// HTTPExternal invokes named operations on configured collaborators over
// HTTP. Each call POSTs the resolved args as JSON to <base>/<op> and decodes
// the JSON response body.
type HTTPExternal struct {
	targets map[string]string
	client  *http.Client
}

// NewHTTPExternal builds an invoker for a tenant's configured collaborators.
func NewHTTPExternal(targets map[string]string, timeout time.Duration) *HTTPExternal {
	return &HTTPExternal{
		targets: targets,
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke calls one operation. Rate-limit and server-side failures are marked
// transient so the caller can retry or degrade the turn.
func (h *HTTPExternal) Invoke(ctx context.Context, target, op string, args map[string]any) (any, error) {
	base, ok := h.targets[target]
	if !ok {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke: collaborator %q not configured: %w", target, domain.ErrValidation)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke: %w", err)
	}

	url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(op, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke %s/%s: %v: %w", target, op, err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke %s/%s: %w", target, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("action.HTTPExternal.Invoke %s/%s: status %d: %w", target, op, resp.StatusCode, domain.ErrTransient)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("action.HTTPExternal.Invoke %s/%s: status %d", target, op, resp.StatusCode)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("action.HTTPExternal.Invoke %s/%s: decoding response: %w", target, op, err)
	}
	return result, nil
}
