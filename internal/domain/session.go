package domain

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const refCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const refCodeLength = 8

// NewRefCode returns an 8-char alphanumeric session reference code.
// The refCode is the only client-facing resumption key.
func NewRefCode() string {
	buf := make([]byte, refCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a UUID prefix.
		return uuid.NewString()[:refCodeLength]
	}
	for i, b := range buf {
		buf[i] = refCodeAlphabet[int(b)%len(refCodeAlphabet)]
	}
	return string(buf)
}

// ReportState tracks an in-progress or submitted report keyed by report kind.
type ReportState struct {
	Key         string         `json:"key"`
	Fields      map[string]any `json:"fields,omitempty"`
	Submitted   bool           `json:"submitted"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
}

// Session is the root aggregate: one end-to-end conversation instance.
// RefCode is globally unique and immutable once assigned.
type Session struct {
	RefCode     string                  `json:"ref_code"`
	TenantID    uuid.UUID               `json:"tenant_id"`
	Mode        string                  `json:"mode"`
	Tags        []string                `json:"tags,omitempty"`
	SessionData map[string]any          `json:"session_data"`
	Thread      []ThreadItem            `json:"thread"`
	Reports     map[string]*ReportState `json:"reports,omitempty"`
	Metrics     SessionMetrics          `json:"metrics"`

	// Delivery markers, e.g. "report_emailed" -> true. Set by actions so a
	// resumed session never re-sends a side effect.
	Delivery map[string]bool `json:"delivery,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewSession creates a fresh session for a tenant with a generated refCode.
func NewSession(tenantID uuid.UUID, mode string) *Session {
	now := time.Now().UTC()
	return &Session{
		RefCode:     NewRefCode(),
		TenantID:    tenantID,
		Mode:        mode,
		SessionData: make(map[string]any),
		Reports:     make(map[string]*ReportState),
		Delivery:    make(map[string]bool),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	return s.ClosedAt != nil
}

// MergeData shallow-merges a patch into SessionData, last write wins.
func (s *Session) MergeData(patch map[string]any) {
	if s.SessionData == nil {
		s.SessionData = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		s.SessionData[k] = v
	}
}

// Report returns the state for a report key, creating it on first access.
func (s *Session) Report(key string) *ReportState {
	if s.Reports == nil {
		s.Reports = make(map[string]*ReportState)
	}
	r, ok := s.Reports[key]
	if !ok {
		r = &ReportState{Key: key}
		s.Reports[key] = r
	}
	return r
}

// SessionRepository persists whole session documents keyed by refCode.
// Save is an idempotent upsert; last write wins at session granularity.
type SessionRepository interface {
	Load(ctx context.Context, tenantID uuid.UUID, refCode string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*Session, error)
	Close(ctx context.Context, tenantID uuid.UUID, refCode string) error
}

// ValidateRefCode rejects codes that cannot have been generated here.
func ValidateRefCode(code string) error {
	if len(code) != refCodeLength {
		return fmt.Errorf("ref code %q: %w", code, ErrValidation)
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("ref code %q: %w", code, ErrValidation)
		}
	}
	return nil
}
