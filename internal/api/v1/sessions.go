package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/server/middleware"
)

// SessionSummary is the list representation; full threads are only returned
// by the single-session lookup.
type SessionSummary struct {
	RefCode   string                `json:"ref_code"`
	Mode      string                `json:"mode"`
	Tags      []string              `json:"tags,omitempty"`
	Metrics   domain.SessionMetrics `json:"metrics"`
	Closed    bool                  `json:"closed"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

type ListSessionsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Maximum number of sessions to return"`
}

type ListSessionsOutput struct {
	Body []*SessionSummary
}

type GetSessionInput struct {
	RefCode string `path:"refCode" maxLength:"64" doc:"Session reference code"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

func RegisterSessionRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List recent sessions in current tenant",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
		tenantID, ok := middleware.TenantIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing tenant context")
		}

		sessions, err := store.Sessions().ListRecent(ctx, tenantID, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		summaries := make([]*SessionSummary, 0, len(sessions))
		for _, s := range sessions {
			summaries = append(summaries, &SessionSummary{
				RefCode:   s.RefCode,
				Mode:      s.Mode,
				Tags:      s.Tags,
				Metrics:   s.Metrics,
				Closed:    s.Closed(),
				CreatedAt: s.CreatedAt,
				UpdatedAt: s.UpdatedAt,
			})
		}

		return &ListSessionsOutput{Body: summaries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{refCode}",
		Summary:     "Get a session document by reference code",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		tenantID, ok := middleware.TenantIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing tenant context")
		}

		if err := domain.ValidateRefCode(input.RefCode); err != nil {
			return nil, huma.Error400BadRequest("invalid reference code")
		}

		s, err := store.Sessions().Load(ctx, tenantID, input.RefCode)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		return &GetSessionOutput{Body: s}, nil
	})
}
