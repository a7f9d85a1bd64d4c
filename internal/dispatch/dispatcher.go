// Package dispatch validates and executes model-proposed tool calls.
// Each call moves through Proposed -> Validated -> Executed -> Reported;
// invalid calls skip straight to Reported with an error result.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/action"
	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/tenantcfg"
	"github.com/foyerhq/foyer/internal/thread"
	"github.com/foyerhq/foyer/internal/tmplctx"
)

// TurnResult summarizes one dispatched batch of tool calls.
type TurnResult struct {
	// TriggerNextTurn is set when any executed action requested an
	// immediate follow-up completion call.
	TriggerNextTurn bool
	// Extra carries turn-scoped values produced by actions.
	Extra map[string]any
}

// Dispatcher feeds validated tool calls into the Action Executor and
// reports each result back into the thread.
type Dispatcher struct {
	tenant *tenantcfg.Tenant
	exec   *action.Executor
}

// New creates a Dispatcher for one tenant.
func New(tenant *tenantcfg.Tenant, exec *action.Executor) *Dispatcher {
	return &Dispatcher{tenant: tenant, exec: exec}
}

// Dispatch runs the proposed calls strictly in the order the model returned
// them, never in parallel: later calls may depend on state mutated by
// earlier ones. The caller has already appended the toolCall items; this
// appends exactly one toolOutput item per proposed call, correlated by
// call ID.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *domain.Session, store *thread.Store, calls []llm.ToolCall, extra map[string]any) (*TurnResult, error) {
	if extra == nil {
		extra = make(map[string]any)
	}
	result := &TurnResult{Extra: extra}

	for _, call := range calls {
		handler, err := d.validate(sess, call, extra)
		if err != nil {
			log.Warn().Err(err).Str("ref_code", sess.RefCode).Str("tool", call.Name).Msg("tool call rejected")
			store.Append(domain.NewToolOutputItem(call.ID, call.Name, errorSummary(err), true))
			continue
		}

		actions, err := d.tenant.ActionsFor(handler.Actions)
		if err != nil {
			store.Append(domain.NewToolOutputItem(call.ID, call.Name, errorSummary(err), true))
			continue
		}

		// Call arguments become turn-scoped context values so action
		// params can reference them as placeholders.
		ArgsAsExtra(call, extra)

		outcome, execErr := d.exec.Run(ctx, sess, store, actions, extra)
		if outcome != nil && outcome.TriggerNextTurn {
			result.TriggerNextTurn = true
		}

		store.Append(domain.NewToolOutputItem(call.ID, call.Name, summarize(outcome, execErr), execErr != nil))
	}

	return result, nil
}

// validate checks the call against the configured tool handlers: the name
// must match a currently-enabled handler and the arguments must satisfy its
// parameter schema.
func (d *Dispatcher) validate(sess *domain.Session, call llm.ToolCall, extra map[string]any) (*tenantcfg.ToolHandler, error) {
	handler, err := d.tenant.Tool(call.Name)
	if err != nil {
		return nil, err
	}

	tctx := tmplctx.Build(d.tenant.Constants, sess, extra)
	if !d.tenant.ToolEnabled(handler, tctx) {
		return nil, fmt.Errorf("tool %q: %w", call.Name, tenantcfg.ErrToolDisabled)
	}

	var args any = map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("tool %q: malformed arguments: %w", call.Name, domain.ErrValidation)
		}
	}
	if err := handler.CompiledSchema().Validate(args); err != nil {
		return nil, fmt.Errorf("tool %q: %v: %w", call.Name, err, domain.ErrValidation)
	}

	return handler, nil
}

// ArgsAsExtra merges the call arguments into the turn extra so action
// templates can reference them. Returns the parsed argument map.
func ArgsAsExtra(call llm.ToolCall, extra map[string]any) map[string]any {
	var args map[string]any
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &args)
	}
	for k, v := range args {
		extra[k] = v
	}
	return args
}

// summarize produces the model-facing result text for a toolOutput item.
func summarize(outcome *action.Outcome, execErr error) string {
	if execErr != nil {
		return errorSummary(execErr)
	}

	failed := outcome.Failed()
	if len(failed) == 0 {
		return `{"status":"ok"}`
	}

	names := make([]string, 0, len(failed))
	for _, f := range failed {
		names = append(names, f.Name)
	}
	return fmt.Sprintf(`{"status":"partial","failed_actions":%q}`, strings.Join(names, ","))
}

func errorSummary(err error) string {
	raw, marshalErr := json.Marshal(err.Error())
	if marshalErr != nil {
		return `{"status":"error"}`
	}
	return fmt.Sprintf(`{"status":"error","error":%s}`, raw)
}
