package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers — inject tenant into context for DoCtx
// ---------------------------------------------------------------------------

func tenantCtx(tenantID uuid.UUID) context.Context {
	return context.WithValue(context.Background(), middleware.ContextKeyTenantID, tenantID)
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions domain.SessionRepository
}

func (m *mockDataStore) Sessions() domain.SessionRepository { return m.sessions }

// ---------------------------------------------------------------------------
// Mock SessionRepository
// ---------------------------------------------------------------------------

type mockSessionRepo struct {
	loadFunc       func(ctx context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, error)
	saveFunc       func(ctx context.Context, s *domain.Session) error
	listRecentFunc func(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.Session, error)
	closeFunc      func(ctx context.Context, tenantID uuid.UUID, refCode string) error
}

func (m *mockSessionRepo) Load(ctx context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, error) {
	return m.loadFunc(ctx, tenantID, refCode)
}

func (m *mockSessionRepo) Save(ctx context.Context, s *domain.Session) error {
	return m.saveFunc(ctx, s)
}

func (m *mockSessionRepo) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.Session, error) {
	return m.listRecentFunc(ctx, tenantID, limit)
}

func (m *mockSessionRepo) Close(ctx context.Context, tenantID uuid.UUID, refCode string) error {
	return m.closeFunc(ctx, tenantID, refCode)
}
