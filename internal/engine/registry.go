package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/domain"
)

const defaultIdleTTL = 30 * time.Minute

// handle is the worker state for one live session. Its mutex serializes
// turns: a session processes at most one interaction at a time.
type handle struct {
	mu         sync.Mutex
	sess       *domain.Session
	lastActive time.Time

	// evicted marks a handle the janitor (or Close) has persisted and
	// dropped from the map. Only written under mu; a caller that locked a
	// stale handle must discard it and re-acquire.
	evicted bool
}

// Registry maps refCodes to live session workers and routes interactions to
// the owning tenant's Engine. Idle sessions are persisted and dropped by the
// janitor; resuming reloads them from the repository.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle

	engines map[uuid.UUID]*Engine
	repo    domain.SessionRepository
	idleTTL time.Duration
}

// NewRegistry creates a Registry over per-tenant engines. idleTTL <= 0 uses
// the default.
func NewRegistry(engines map[uuid.UUID]*Engine, repo domain.SessionRepository, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Registry{
		handles: make(map[string]*handle),
		engines: engines,
		repo:    repo,
		idleTTL: idleTTL,
	}
}

// InitSession resolves the entry point of a connection: an empty or unknown
// refCode yields a fresh session, a known one resumes with full history. The
// returned session is a snapshot safe to read without the worker lock.
func (r *Registry) InitSession(ctx context.Context, tenantID uuid.UUID, refCode string) (sess *domain.Session, resumed bool, err error) {
	eng, ok := r.engines[tenantID]
	if !ok {
		return nil, false, fmt.Errorf("engine.Registry.InitSession: tenant %s: %w", tenantID, domain.ErrNotFound)
	}

	if refCode != "" && domain.ValidateRefCode(refCode) == nil {
		h, err := r.lockLive(ctx, tenantID, refCode)
		switch {
		case err == nil:
			snap := snapshot(h.sess)
			h.lastActive = time.Now()
			h.mu.Unlock()
			return snap, true, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, err
		}
		// Unknown refCode: fall through to a fresh session rather than
		// leaking whether the code ever existed.
	}

	fresh := domain.NewSession(tenantID, eng.tenant.Mode)
	if err := r.repo.Save(ctx, fresh); err != nil {
		return nil, false, fmt.Errorf("engine.Registry.InitSession: %w", err)
	}

	r.mu.Lock()
	r.handles[fresh.RefCode] = &handle{sess: fresh, lastActive: time.Now()}
	r.mu.Unlock()

	log.Info().
		Str("ref_code", fresh.RefCode).
		Str("tenant", tenantID.String()).
		Msg("session created")
	return snapshot(fresh), false, nil
}

// Interact runs one turn on the session's worker, blocking while an earlier
// turn for the same session is still in flight. The turn itself runs on a
// detached context so a client disconnect cannot abandon it half-way.
func (r *Registry) Interact(ctx context.Context, tenantID uuid.UUID, refCode string, in *domain.Interaction) ([]domain.ThreadItem, error) {
	eng, ok := r.engines[tenantID]
	if !ok {
		return nil, fmt.Errorf("engine.Registry.Interact: tenant %s: %w", tenantID, domain.ErrNotFound)
	}

	h, err := r.lockLive(ctx, tenantID, refCode)
	if err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	h.lastActive = time.Now()

	return eng.HandleInteraction(context.WithoutCancel(ctx), h.sess, in)
}

// Close marks the session terminal, persists it and drops the worker.
func (r *Registry) Close(ctx context.Context, tenantID uuid.UUID, refCode string) error {
	h, err := r.lockLive(ctx, tenantID, refCode)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	if !h.sess.Closed() {
		now := time.Now().UTC()
		h.sess.ClosedAt = &now
		h.sess.UpdatedAt = now
		if err := r.repo.Save(ctx, h.sess); err != nil {
			return fmt.Errorf("engine.Registry.Close: %w", err)
		}
	}

	r.mu.Lock()
	delete(r.handles, refCode)
	r.mu.Unlock()
	h.evicted = true
	return nil
}

// Len reports the number of live session workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Run sweeps idle workers until ctx is cancelled. Meant to run in its own
// goroutine next to the server.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle(context.WithoutCancel(ctx))
		}
	}
}

// lockLive acquires the worker for refCode with its lock held. The janitor
// can evict a handle between lookup and lock; a handle found evicted after
// locking is discarded and the lookup repeated, so no two callers ever run
// turns on divergent copies of one session. The caller must unlock.
func (r *Registry) lockLive(ctx context.Context, tenantID uuid.UUID, refCode string) (*handle, error) {
	for {
		h, err := r.acquire(ctx, tenantID, refCode)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		if !h.evicted {
			return h, nil
		}
		h.mu.Unlock()
	}
}

// acquire returns the live worker for refCode, loading the session from the
// repository on first touch.
func (r *Registry) acquire(ctx context.Context, tenantID uuid.UUID, refCode string) (*handle, error) {
	r.mu.Lock()
	h, ok := r.handles[refCode]
	r.mu.Unlock()
	if ok {
		if h.sess.TenantID != tenantID {
			return nil, fmt.Errorf("engine.Registry.acquire: session %s: %w", refCode, domain.ErrNotFound)
		}
		return h, nil
	}

	sess, err := r.repo.Load(ctx, tenantID, refCode)
	if err != nil {
		return nil, fmt.Errorf("engine.Registry.acquire: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[refCode]; ok {
		// Lost the load race; the first loader wins.
		return existing, nil
	}
	h = &handle{sess: sess, lastActive: time.Now()}
	r.handles[refCode] = h
	return h, nil
}

// evictIdle persists and drops workers idle beyond the TTL. Workers with a
// turn in flight are skipped and picked up on a later sweep.
func (r *Registry) evictIdle(ctx context.Context) {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	candidates := make(map[string]*handle, len(r.handles))
	for code, h := range r.handles {
		candidates[code] = h
	}
	r.mu.Unlock()

	for code, h := range candidates {
		if !h.mu.TryLock() {
			continue
		}
		if h.evicted || h.lastActive.After(cutoff) {
			h.mu.Unlock()
			continue
		}

		if err := r.repo.Save(ctx, h.sess); err != nil {
			log.Error().Err(err).Str("ref_code", code).Msg("idle eviction save failed, keeping worker")
			h.mu.Unlock()
			continue
		}

		r.mu.Lock()
		delete(r.handles, code)
		r.mu.Unlock()
		h.evicted = true
		h.mu.Unlock()

		log.Debug().Str("ref_code", code).Msg("idle session evicted")
	}
}

// snapshot copies the session with an independent thread slice so callers
// can read it outside the worker lock.
func snapshot(s *domain.Session) *domain.Session {
	out := *s
	out.Thread = make([]domain.ThreadItem, len(s.Thread))
	copy(out.Thread, s.Thread)
	return &out
}
