package v1

import (
	"github.com/foyerhq/foyer/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Sessions() domain.SessionRepository
}
