package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foyerhq/foyer/internal/domain"
)

// SessionRepo stores each session as one JSONB document. Save is an upsert
// at session granularity: the worker serializes writes per session, so last
// write wins is safe.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Load(ctx context.Context, tenantID uuid.UUID, refCode string) (*domain.Session, error) {
	var doc []byte

	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM sessions WHERE tenant_id = $1 AND ref_code = $2`,
		tenantID, refCode,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.Load: %s: %w", refCode, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.Load: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("sessionRepo.Load: decode: %w", err)
	}

	// The thread is the source of truth; stored counters are advisory.
	s.Metrics = domain.RecomputeMetrics(s.Thread)

	return &s, nil
}

func (r *SessionRepo) Save(ctx context.Context, s *domain.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionRepo.Save: encode: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO sessions (tenant_id, ref_code, mode, doc, created_at, updated_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, ref_code)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at, closed_at = EXCLUDED.closed_at`,
		s.TenantID, s.RefCode, s.Mode, doc, s.CreatedAt, s.UpdatedAt, s.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Save: %w", err)
	}

	return nil
}

func (r *SessionRepo) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM sessions WHERE tenant_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListRecent: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var doc []byte

		err = rows.Scan(&doc)
		if err != nil {
			return nil, fmt.Errorf("sessionRepo.ListRecent: scan: %w", err)
		}

		var s domain.Session
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListRecent: decode: %w", err)
		}
		s.Metrics = domain.RecomputeMetrics(s.Thread)
		sessions = append(sessions, &s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListRecent: rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepo) Close(ctx context.Context, tenantID uuid.UUID, refCode string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET closed_at = now(), updated_at = now(),
		     doc = jsonb_set(doc, '{closed_at}', to_jsonb(now()), true)
		 WHERE tenant_id = $1 AND ref_code = $2 AND closed_at IS NULL`,
		tenantID, refCode,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.Close: %s: %w", refCode, domain.ErrNotFound)
	}

	return nil
}
