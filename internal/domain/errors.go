package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound           = errors.New("domain: not found")
	ErrValidation         = errors.New("domain: validation failed")
	ErrModerationFlagged  = errors.New("domain: content flagged by moderation")
	ErrTransient          = errors.New("domain: transient external failure")
	ErrGatingActionFailed = errors.New("domain: gating action failed")
	ErrSessionClosed      = errors.New("domain: session closed")
)
