// Package tmplctx builds the rendering context for templated content and
// renders templates against it without ever aborting a turn.
package tmplctx

import (
	"github.com/foyerhq/foyer/internal/domain"
)

// Context is the merged mapping handed to the template renderer.
type Context map[string]any

// Build merges three layers, later layers overriding earlier:
// tenant constants, the session's mutable data, and one-shot extra values
// supplied by the current action. Pure: no side effects, no I/O.
func Build(constants map[string]any, sess *domain.Session, extra map[string]any) Context {
	ctx := make(Context, len(constants)+len(extra)+8)
	for k, v := range constants {
		ctx[k] = v
	}
	if sess != nil {
		for k, v := range sess.SessionData {
			ctx[k] = v
		}
		ctx["ref_code"] = sess.RefCode
		ctx["session_mode"] = sess.Mode
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// Get returns the value for key, or the empty string when absent. Missing
// keys never raise.
func (c Context) Get(key string) any {
	if v, ok := c[key]; ok {
		return v
	}
	return ""
}
