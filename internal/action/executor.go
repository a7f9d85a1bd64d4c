// Package action interprets declarative action lists against a session.
// Actions run left to right with per-action failure isolation; a gating
// action failure halts the remainder of its list.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/notify"
	"github.com/foyerhq/foyer/internal/tenantcfg"
	"github.com/foyerhq/foyer/internal/thread"
	"github.com/foyerhq/foyer/internal/tmplctx"
)

// External is a configured external collaborator (CRM, ticketing system,
// lookup service) addressed by invoke_external_tool / invoke_external_resource.
type External interface {
	Invoke(ctx context.Context, target, op string, args map[string]any) (any, error)
}

// Result records the outcome of one executed action for audit.
type Result struct {
	Name string
	Kind tenantcfg.ActionKind
	Err  error
}

// Outcome summarizes one action list run.
type Outcome struct {
	TriggerNextTurn bool
	Results         []Result
	// Extra carries turn-scoped values (invoke results) for later actions
	// and templates in the same turn.
	Extra map[string]any
}

// Failed returns the results of actions that failed.
func (o *Outcome) Failed() []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Executor runs ordered action lists against a session. One Executor per
// tenant; safe for concurrent use because all mutable state lives on the
// session owned by the calling worker.
type Executor struct {
	tenant    *tenantcfg.Tenant
	renderer  *tmplctx.Renderer
	notifiers *notify.Registry
	external  External
}

// NewExecutor wires an Executor for one tenant.
func NewExecutor(tenant *tenantcfg.Tenant, renderer *tmplctx.Renderer, notifiers *notify.Registry, external External) *Executor {
	return &Executor{
		tenant:    tenant,
		renderer:  renderer,
		notifiers: notifiers,
		external:  external,
	}
}

// Run executes the action list left to right. Each action's parameters are
// resolved against a freshly built template context immediately before
// execution, so an action observes mutations made by prior actions in the
// same list. extra seeds turn-scoped context values and receives invoke
// results.
func (e *Executor) Run(ctx context.Context, sess *domain.Session, store *thread.Store, actions []*tenantcfg.ActionDef, extra map[string]any) (*Outcome, error) {
	if extra == nil {
		extra = make(map[string]any)
	}
	outcome := &Outcome{Extra: extra}

	for _, a := range actions {
		tctx := tmplctx.Build(e.tenant.Constants, sess, extra)
		params := resolveParams(e.renderer, a.Params, tctx)

		err := e.execute(ctx, sess, store, a, params, tctx, outcome)
		outcome.Results = append(outcome.Results, Result{Name: a.Name, Kind: a.Kind, Err: err})
		e.audit(sess, a, params, err)

		if err != nil && a.Gating {
			return outcome, fmt.Errorf("action.Executor.Run: gating action %q: %w: %w", a.Name, domain.ErrGatingActionFailed, err)
		}
	}

	return outcome, nil
}

func (e *Executor) execute(ctx context.Context, sess *domain.Session, store *thread.Store, a *tenantcfg.ActionDef, params map[string]any, tctx tmplctx.Context, outcome *Outcome) error {
	switch a.Kind {
	case tenantcfg.ActionUpdateSession:
		return e.updateSession(sess, params)
	case tenantcfg.ActionAppendThreadItem:
		return e.appendThreadItem(store, params, tctx)
	case tenantcfg.ActionSendNotification:
		return e.sendNotification(ctx, sess, params, tctx)
	case tenantcfg.ActionInvokeTool, tenantcfg.ActionInvokeResource:
		return e.invoke(ctx, a, params, outcome)
	case tenantcfg.ActionTriggerNextTurn:
		outcome.TriggerNextTurn = true
		return nil
	default:
		return fmt.Errorf("action %q: unknown kind %q: %w", a.Name, a.Kind, domain.ErrValidation)
	}
}

// updateSession shallow-merges a patch into session state, last write wins.
// Optional params: report {key, fields, submitted} and mark_delivered.
func (e *Executor) updateSession(sess *domain.Session, params map[string]any) error {
	if patch := mapParam(params, "patch"); patch != nil {
		sess.MergeData(patch)
	}

	if rep := mapParam(params, "report"); rep != nil {
		key := stringParam(rep, "key")
		if key == "" {
			return fmt.Errorf("update_session report requires key: %w", domain.ErrValidation)
		}
		state := sess.Report(key)
		if fields := mapParam(rep, "fields"); fields != nil {
			if state.Fields == nil {
				state.Fields = make(map[string]any, len(fields))
			}
			for k, v := range fields {
				state.Fields[k] = v
			}
		}
		if boolParam(rep, "submitted") {
			state.Submitted = true
			now := nowUTC()
			state.SubmittedAt = &now
		}
	}

	if mark := stringParam(params, "mark_delivered"); mark != "" {
		if sess.Delivery == nil {
			sess.Delivery = make(map[string]bool)
		}
		sess.Delivery[mark] = true
	}

	return nil
}

// appendThreadItem renders and appends a notification, form, report or
// assistant item.
func (e *Executor) appendThreadItem(store *thread.Store, params map[string]any, tctx tmplctx.Context) error {
	content := e.content(params, tctx)

	switch role := domain.MetaRole(stringParam(params, "meta_role")); role {
	case domain.MetaNotification:
		store.Append(domain.NewNotificationItem(content))
	case domain.MetaAssistant:
		store.Append(domain.NewAssistantItem(content, nil, 0))
	case domain.MetaForm:
		formKey := stringParam(params, "form_key")
		form, ok := e.tenant.Forms[formKey]
		if !ok {
			return fmt.Errorf("append_thread_item: form %q: %w", formKey, domain.ErrNotFound)
		}
		if content == "" {
			content = e.tenant.RenderTemplate(form.Template, tctx)
		}
		store.Append(domain.NewFormItem(formKey, content))
	case domain.MetaReport:
		reportKey := stringParam(params, "report_key")
		if reportKey == "" {
			return fmt.Errorf("append_thread_item: report requires report_key: %w", domain.ErrValidation)
		}
		store.Append(domain.NewReportItem(reportKey, content, buttonsParam(params)))
	default:
		return fmt.Errorf("append_thread_item: meta_role %q: %w", role, domain.ErrValidation)
	}

	return nil
}

// sendNotification delivers via the configured channel. A mark_delivered
// marker makes the send at-most-once: a session that already carries the
// marker skips delivery instead of re-sending on retry.
func (e *Executor) sendNotification(ctx context.Context, sess *domain.Session, params map[string]any, tctx tmplctx.Context) error {
	mark := stringParam(params, "mark_delivered")
	if mark != "" && sess.Delivery[mark] {
		log.Debug().Str("ref_code", sess.RefCode).Str("marker", mark).Msg("notification already delivered, skipping")
		return nil
	}

	channel := stringParam(params, "channel")
	if channel == "" {
		channel = "email"
	}

	deliveryID, err := e.notifiers.Send(ctx, channel, notify.Notification{
		Recipient: stringParam(params, "recipient"),
		Subject:   stringParam(params, "subject"),
		Body:      e.content(params, tctx),
		ThreadID:  stringParam(params, "thread_id"),
	})
	if err != nil {
		return err
	}

	log.Info().Str("ref_code", sess.RefCode).Str("channel", channel).Str("delivery_id", deliveryID).Msg("notification sent")
	if mark != "" {
		if sess.Delivery == nil {
			sess.Delivery = make(map[string]bool)
		}
		sess.Delivery[mark] = true
	}
	return nil
}

// invoke calls a named operation on an external collaborator and stores the
// result under the action's result key for later actions and templates.
func (e *Executor) invoke(ctx context.Context, a *tenantcfg.ActionDef, params map[string]any, outcome *Outcome) error {
	if e.external == nil {
		return fmt.Errorf("action %q: no external collaborator wired: %w", a.Name, domain.ErrValidation)
	}

	result, err := e.external.Invoke(ctx, stringParam(params, "target"), stringParam(params, "op"), mapParam(params, "args"))
	if err != nil {
		return err
	}

	key := a.ResultKey
	if key == "" {
		key = "result"
	}
	outcome.Extra[key] = result
	return nil
}

// content resolves the rendered body of an action: a named tenant template
// when "template" is set, otherwise the already-resolved "content" param.
// The template sees the turn context overlaid with the action's own params.
func (e *Executor) content(params map[string]any, tctx tmplctx.Context) string {
	if name := stringParam(params, "template"); name != "" {
		merged := make(tmplctx.Context, len(tctx)+len(params))
		for k, v := range tctx {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		return e.tenant.RenderTemplate(name, merged)
	}
	return stringParam(params, "content")
}

// audit emits one structured log event per executed action with sensitive
// parameter values redacted.
func (e *Executor) audit(sess *domain.Session, a *tenantcfg.ActionDef, params map[string]any, err error) {
	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.
		Str("ref_code", sess.RefCode).
		Str("action", a.Name).
		Str("kind", string(a.Kind)).
		Bool("gating", a.Gating).
		Interface("params", e.redact(params)).
		Msg("action executed")
}

func (e *Executor) redact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if e.tenant.IsSensitive(k) {
			out[k] = "[redacted]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = e.redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func nowUTC() time.Time { return time.Now().UTC() }

func buttonsParam(params map[string]any) []domain.Button {
	raw := listParam(params, "buttons")
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.Button, 0, len(raw))
	for _, b := range raw {
		m, ok := b.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.Button{
			Label:      stringParam(m, "label"),
			ActionList: stringParam(m, "action_list"),
		})
	}
	return out
}
