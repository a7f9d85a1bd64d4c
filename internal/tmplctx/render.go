package tmplctx

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
)

// noValue is what text/template emits for absent map keys under
// missingkey=zero; it is stripped so missing keys render as empty string.
const noValue = "<no value>"

// Renderer renders templated content against a Context. Rendering never
// aborts a conversation turn: parse or execute failures are logged and
// replaced with the fallback string.
type Renderer struct {
	fallback string
	funcs    template.FuncMap
}

// NewRenderer creates a Renderer with the given fallback for failed renders.
func NewRenderer(fallback string) *Renderer {
	return &Renderer{
		fallback: fallback,
		funcs: template.FuncMap{
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
			"now":   func() string { return time.Now().UTC().Format(time.RFC3339) },
		},
	}
}

// Parse compiles a template for load-time validation and caching.
func (r *Renderer) Parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("tmplctx.Renderer.Parse: template %q: %w", name, err)
	}
	return t, nil
}

// Execute renders a pre-parsed template. On failure it logs and returns the
// fallback string.
func (r *Renderer) Execute(t *template.Template, ctx Context) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any(ctx)); err != nil {
		log.Error().Err(err).Str("template", t.Name()).Msg("template execute failed")
		return r.fallback
	}
	return strings.ReplaceAll(buf.String(), noValue, "")
}

// Render parses and renders an inline template string. On failure it logs
// and returns the fallback string.
func (r *Renderer) Render(name, text string, ctx Context) string {
	t, err := r.Parse(name, text)
	if err != nil {
		log.Error().Err(err).Str("template", name).Msg("template parse failed")
		return r.fallback
	}
	return r.Execute(t, ctx)
}
