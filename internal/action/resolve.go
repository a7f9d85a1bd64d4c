package action

import (
	"strings"

	"github.com/foyerhq/foyer/internal/tmplctx"
)

// resolveValue walks an action parameter tree (literals, placeholder strings
// and nested maps/lists) and resolves template placeholders against the
// current context. Configuration stays static; only the returned copy is
// resolved.
func resolveValue(r *tmplctx.Renderer, v any, ctx tmplctx.Context) any {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "{{") {
			return t
		}
		return r.Render("param", t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = resolveValue(r, val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = resolveValue(r, val, ctx)
		}
		return out
	default:
		return v
	}
}

// resolveParams resolves a whole parameter map.
func resolveParams(r *tmplctx.Renderer, params map[string]any, ctx tmplctx.Context) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return resolveValue(r, params, ctx).(map[string]any)
}

// stringParam returns a string parameter, empty when absent or non-string.
func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// mapParam returns a nested map parameter, nil when absent.
func mapParam(params map[string]any, key string) map[string]any {
	m, _ := params[key].(map[string]any)
	return m
}

// boolParam returns a bool parameter, false when absent.
func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

// listParam returns a list parameter, nil when absent.
func listParam(params map[string]any, key string) []any {
	l, _ := params[key].([]any)
	return l
}
