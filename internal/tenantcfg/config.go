// Package tenantcfg loads the per-tenant configuration surface: tool
// handlers, action definitions, templates, forms and constants. Everything
// here is read-only after startup and shared across all sessions.
package tenantcfg

import (
	"errors"
	"fmt"
	"text/template"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/foyerhq/foyer/internal/tmplctx"
)

// ErrUnknownTool is returned when a model-proposed function name matches no
// configured tool handler.
var ErrUnknownTool = errors.New("tenantcfg: unknown tool")

// ErrToolDisabled is returned when a tool handler exists but its enable
// condition does not hold for the current session state.
var ErrToolDisabled = errors.New("tenantcfg: tool disabled")

// ErrUnknownAction is returned when an action or action list name is not
// defined for the tenant.
var ErrUnknownAction = errors.New("tenantcfg: unknown action")

// ActionKind discriminates the declarative action variants.
type ActionKind string

const (
	ActionUpdateSession    ActionKind = "update_session"
	ActionAppendThreadItem ActionKind = "append_thread_item"
	ActionSendNotification ActionKind = "send_notification"
	ActionInvokeTool       ActionKind = "invoke_external_tool"
	ActionInvokeResource   ActionKind = "invoke_external_resource"
	ActionTriggerNextTurn  ActionKind = "trigger_next_turn"
)

// ActionDef is one declarative, named operation. Params may contain
// unresolved template placeholders, resolved against the template context at
// execution time, never at load time. Actions are pure configuration data.
type ActionDef struct {
	Name      string         `yaml:"name"`
	Kind      ActionKind     `yaml:"kind"`
	Gating    bool           `yaml:"gating"`
	ResultKey string         `yaml:"result_key"`
	Params    map[string]any `yaml:"params"`
}

// ToolHandler maps a model-exposed function name to its parameter schema and
// the ordered action list to run when the model calls it.
type ToolHandler struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"schema"`
	// EnabledWhen is an optional template condition; the tool is enabled
	// when it renders to "true" (empty means always enabled).
	EnabledWhen string   `yaml:"enabled_when"`
	Actions     []string `yaml:"actions"`

	compiled  *jsonschema.Schema
	schemaRaw []byte
}

// CompiledSchema returns the compiled JSON Schema for argument validation.
func (h *ToolHandler) CompiledSchema() *jsonschema.Schema { return h.compiled }

// SchemaJSON returns the raw JSON schema document advertised to the model.
func (h *ToolHandler) SchemaJSON() []byte { return h.schemaRaw }

// FormField describes one input of a client-rendered form.
type FormField struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Form is a UI form definition embedded into the thread by actions.
type Form struct {
	Key      string      `yaml:"key"`
	Template string      `yaml:"template"`
	Fields   []FormField `yaml:"fields"`
}

// ModelParams are the completion-service parameters for a tenant.
type ModelParams struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// Tenant is the full immutable configuration for one tenant/domain.
type Tenant struct {
	TenantID      uuid.UUID               `yaml:"tenant_id"`
	Name          string                  `yaml:"name"`
	Mode          string                  `yaml:"mode"`
	Model         ModelParams             `yaml:"model"`
	Instructions  string                  `yaml:"instructions"`
	Constants     map[string]any          `yaml:"constants"`
	SensitiveKeys []string                `yaml:"sensitive_keys"`
	Templates     map[string]string       `yaml:"templates"`
	Forms         map[string]*Form        `yaml:"forms"`
	Actions       map[string]*ActionDef   `yaml:"actions"`
	ActionLists   map[string][]string     `yaml:"action_lists"`
	Tools         map[string]*ToolHandler `yaml:"tools"`

	// Externals maps collaborator names (invoke_external_* targets) to their
	// base URLs.
	Externals map[string]string `yaml:"externals"`

	renderer *tmplctx.Renderer
	parsed   map[string]*template.Template
}

// Tool looks up a tool handler by model-exposed function name.
func (t *Tenant) Tool(name string) (*ToolHandler, error) {
	h, ok := t.Tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, ErrUnknownTool)
	}
	return h, nil
}

// ToolEnabled evaluates the handler's enable condition against the current
// template context. An empty condition is always enabled.
func (t *Tenant) ToolEnabled(h *ToolHandler, ctx tmplctx.Context) bool {
	if h.EnabledWhen == "" {
		return true
	}
	return t.renderer.Render("enabled_when:"+h.Name, h.EnabledWhen, ctx) == "true"
}

// Action looks up a single action definition by name.
func (t *Tenant) Action(name string) (*ActionDef, error) {
	a, ok := t.Actions[name]
	if !ok {
		return nil, fmt.Errorf("tenantcfg.Tenant.Action: %q: %w", name, ErrUnknownAction)
	}
	return a, nil
}

// ActionsFor resolves an ordered list of action names to definitions.
func (t *Tenant) ActionsFor(names []string) ([]*ActionDef, error) {
	out := make([]*ActionDef, 0, len(names))
	for _, name := range names {
		a, err := t.Action(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ActionList resolves a named button action list.
func (t *Tenant) ActionList(name string) ([]*ActionDef, error) {
	names, ok := t.ActionLists[name]
	if !ok {
		return nil, fmt.Errorf("tenantcfg.Tenant.ActionList: %q: %w", name, ErrUnknownAction)
	}
	return t.ActionsFor(names)
}

// RenderTemplate renders a named tenant template against ctx. Unknown names
// fall back to rendering the name itself as an inline template so action
// params can carry inline content.
func (t *Tenant) RenderTemplate(name string, ctx tmplctx.Context) string {
	if tmpl, ok := t.parsed[name]; ok {
		return t.renderer.Execute(tmpl, ctx)
	}
	return t.renderer.Render("inline", name, ctx)
}

// IsSensitive reports whether a parameter key must be redacted in audit logs.
func (t *Tenant) IsSensitive(key string) bool {
	for _, k := range t.SensitiveKeys {
		if k == key {
			return true
		}
	}
	return false
}
