package tenantcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/foyerhq/foyer/internal/tmplctx"
)

// Registry holds the loaded tenant configurations, keyed by tenant ID.
// Read-only after Load.
type Registry struct {
	tenants map[uuid.UUID]*Tenant
}

// Get returns the configuration for a tenant.
func (r *Registry) Get(tenantID uuid.UUID) (*Tenant, bool) {
	t, ok := r.tenants[tenantID]
	return t, ok
}

// Tenants returns all loaded tenant IDs.
func (r *Registry) Tenants() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.tenants))
	for id := range r.tenants {
		out = append(out, id)
	}
	return out
}

// Load reads every *.yaml file in dir as one tenant configuration,
// validates cross-references, compiles tool schemas and parses templates.
func Load(dir string, renderer *tmplctx.Renderer) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg.Load: %w", err)
	}

	reg := &Registry{tenants: make(map[uuid.UUID]*Tenant)}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		tenant, loadErr := loadFile(path, renderer)
		if loadErr != nil {
			return nil, fmt.Errorf("tenantcfg.Load: %s: %w", entry.Name(), loadErr)
		}

		if _, dup := reg.tenants[tenant.TenantID]; dup {
			return nil, fmt.Errorf("tenantcfg.Load: duplicate tenant %s in %s", tenant.TenantID, entry.Name())
		}
		reg.tenants[tenant.TenantID] = tenant

		log.Info().
			Str("tenant", tenant.Name).
			Int("tools", len(tenant.Tools)).
			Int("actions", len(tenant.Actions)).
			Msg("tenant configuration loaded")
	}

	return reg, nil
}

func loadFile(path string, renderer *tmplctx.Renderer) (*Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tenant Tenant
	if err := yaml.Unmarshal(raw, &tenant); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := prepare(&tenant, renderer); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// prepare validates cross-references, compiles schemas and parses templates.
// Exposed to tests via Prepare.
func prepare(t *Tenant, renderer *tmplctx.Renderer) error {
	if t.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is required")
	}
	t.renderer = renderer
	t.parsed = make(map[string]*template.Template, len(t.Templates)+1)

	// Names are filled from map keys when omitted in the body.
	for name, a := range t.Actions {
		if a.Name == "" {
			a.Name = name
		}
		switch a.Kind {
		case ActionUpdateSession, ActionAppendThreadItem, ActionSendNotification,
			ActionInvokeTool, ActionInvokeResource, ActionTriggerNextTurn:
		default:
			return fmt.Errorf("action %q: unknown kind %q", name, a.Kind)
		}
	}

	for name, h := range t.Tools {
		if h.Name == "" {
			h.Name = name
		}
		for _, action := range h.Actions {
			if _, ok := t.Actions[action]; !ok {
				return fmt.Errorf("tool %q references undefined action %q", name, action)
			}
		}

		schema := h.Schema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		rawSchema, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("tool %q: marshal schema: %w", name, err)
		}
		compiled, err := jsonschema.CompileString(name+".schema.json", string(rawSchema))
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", name, err)
		}
		h.schemaRaw = rawSchema
		h.compiled = compiled
	}

	for listName, actions := range t.ActionLists {
		for _, action := range actions {
			if _, ok := t.Actions[action]; !ok {
				return fmt.Errorf("action list %q references undefined action %q", listName, action)
			}
		}
	}

	for key, form := range t.Forms {
		if form.Key == "" {
			form.Key = key
		}
	}

	for name, text := range t.Templates {
		tmpl, err := renderer.Parse(name, text)
		if err != nil {
			return fmt.Errorf("template %q: %w", name, err)
		}
		t.parsed[name] = tmpl
	}

	if t.Instructions != "" {
		tmpl, err := renderer.Parse("instructions", t.Instructions)
		if err != nil {
			return fmt.Errorf("instructions template: %w", err)
		}
		t.parsed["instructions"] = tmpl
	}

	return nil
}

// Prepare validates and compiles an in-memory tenant. Used by tests and by
// callers that assemble configuration programmatically.
func Prepare(t *Tenant, renderer *tmplctx.Renderer) error {
	return prepare(t, renderer)
}
