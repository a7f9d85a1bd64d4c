// Package engine drives the session turn loop: moderation, completion,
// tool-call dispatch and persistence. One Engine serves all sessions of a
// tenant; per-session serialization is the Registry's job.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/action"
	"github.com/foyerhq/foyer/internal/dispatch"
	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/notify"
	"github.com/foyerhq/foyer/internal/tenantcfg"
	"github.com/foyerhq/foyer/internal/thread"
	"github.com/foyerhq/foyer/internal/tmplctx"
)

const defaultMaxHops = 4

// unavailableNotice is shown to the client when a turn fails on a transient
// upstream error after retries are exhausted.
const unavailableNotice = "The assistant is temporarily unavailable. Please try again in a moment."

// Deps bundles everything an Engine needs for one tenant.
type Deps struct {
	Tenant    *tenantcfg.Tenant
	Renderer  *tmplctx.Renderer
	Completer llm.Completer
	Moderator llm.Moderator
	Notifiers *notify.Registry
	External  action.External
	Repo      domain.SessionRepository

	// MaxHops caps completion calls per turn when tool dispatch or
	// trigger_next_turn keeps the loop going. Zero means the default.
	MaxHops int
}

// Engine executes whole turns for one tenant. A turn either ends in a
// persisted state transition or in an explicit error; partially applied
// thread mutations are rolled back before the error is surfaced.
type Engine struct {
	tenant     *tenantcfg.Tenant
	completer  llm.Completer
	moderator  llm.Moderator
	exec       *action.Executor
	dispatcher *dispatch.Dispatcher
	repo       domain.SessionRepository
	maxHops    int
}

// New wires an Engine and its executor/dispatcher for one tenant.
func New(d Deps) *Engine {
	exec := action.NewExecutor(d.Tenant, d.Renderer, d.Notifiers, d.External)
	hops := d.MaxHops
	if hops <= 0 {
		hops = defaultMaxHops
	}
	return &Engine{
		tenant:     d.Tenant,
		completer:  d.Completer,
		moderator:  d.Moderator,
		exec:       exec,
		dispatcher: dispatch.New(d.Tenant, exec),
		repo:       d.Repo,
		maxHops:    hops,
	}
}

// HandleInteraction runs one full turn for an inbound client interaction and
// returns the thread items appended by it. The caller must hold the session's
// worker lock; the session is mutated in place and persisted before return.
func (e *Engine) HandleInteraction(ctx context.Context, sess *domain.Session, in *domain.Interaction) ([]domain.ThreadItem, error) {
	if sess.Closed() {
		return nil, fmt.Errorf("engine.Engine.HandleInteraction: session %s: %w", sess.RefCode, domain.ErrSessionClosed)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("engine.Engine.HandleInteraction: %w", err)
	}

	base := len(sess.Thread)
	store := thread.New(&sess.Thread)

	var err error
	switch in.Kind {
	case domain.InteractionMessage:
		err = e.handleMessage(ctx, sess, store, in)
	case domain.InteractionFormSubmit:
		err = e.handleFormSubmit(ctx, sess, store, in)
	case domain.InteractionButtonClick:
		err = e.handleButtonClick(ctx, sess, store, in)
	}

	if err != nil {
		// A turn never persists half-applied: the thread is restored to its
		// pre-turn state before anything is surfaced.
		sess.Thread = sess.Thread[:base]
		if !errors.Is(err, domain.ErrTransient) {
			return nil, err
		}
		log.Error().Err(err).
			Str("ref_code", sess.RefCode).
			Str("tenant", sess.TenantID.String()).
			Msg("turn aborted on transient failure")
		store.Append(domain.NewNotificationItem(unavailableNotice))
	}

	return e.persist(ctx, sess, base)
}

// handleMessage is the free-text path: moderation gate, then the completion
// loop. Flagged input is recorded and never reaches the model.
func (e *Engine) handleMessage(ctx context.Context, sess *domain.Session, store *thread.Store, in *domain.Interaction) error {
	verdict, err := e.moderator.Moderate(ctx, in.Text)
	if err != nil {
		return fmt.Errorf("moderation: %w", err)
	}
	if verdict.Flagged {
		log.Warn().
			Str("ref_code", sess.RefCode).
			Strs("categories", verdict.Categories).
			Msg("user input flagged by moderation")
		store.Append(domain.NewFlaggedItem(in.Text, verdict.Categories))
		return nil
	}

	store.Append(domain.NewUserItem(in.Text))
	return e.completeLoop(ctx, sess, store, map[string]any{})
}

// handleFormSubmit marks the pending form submitted, folds its fields into
// the session state and hands the turn to the model.
func (e *Engine) handleFormSubmit(ctx context.Context, sess *domain.Session, store *thread.Store, in *domain.Interaction) error {
	idx, err := store.FindForm(in.FormKey)
	if err != nil {
		return fmt.Errorf("form %q: %w", in.FormKey, domain.ErrValidation)
	}
	if sess.Thread[idx].Submitted {
		return fmt.Errorf("form %q already submitted: %w", in.FormKey, domain.ErrValidation)
	}

	if err := store.Mutate(idx, thread.Patch{Submitted: thread.Bool(true)}); err != nil {
		return err
	}
	sess.MergeData(in.Fields)

	fields, _ := json.Marshal(in.Fields)
	store.Append(domain.NewUserItem(fmt.Sprintf("Submitted the %q form: %s", in.FormKey, fields)))

	extra := map[string]any{"form_key": in.FormKey}
	for k, v := range in.Fields {
		extra[k] = v
	}
	return e.completeLoop(ctx, sess, store, extra)
}

// handleButtonClick runs the button's action list directly, without a
// completion round-trip unless an action requests one.
func (e *Engine) handleButtonClick(ctx context.Context, sess *domain.Session, store *thread.Store, in *domain.Interaction) error {
	actions, err := e.tenant.ActionList(in.Button)
	if err != nil {
		return fmt.Errorf("button %q: %w", in.Button, err)
	}

	reportIdx, buttonIdx, err := e.findClickableButton(sess, store, in)
	if err != nil {
		return err
	}

	extra := map[string]any{"button": in.Button, "report_key": in.ReportKey}
	outcome, execErr := e.exec.Run(ctx, sess, store, actions, extra)
	if execErr != nil {
		if errors.Is(execErr, domain.ErrTransient) {
			return execErr
		}
		log.Warn().Err(execErr).
			Str("ref_code", sess.RefCode).
			Str("button", in.Button).
			Msg("button action list failed")
		store.Append(domain.NewNotificationItem("That action could not be completed. Please try again."))
		return nil
	}

	// Disable only now that the list succeeded, so a failed click stays
	// retryable while a successful one cannot replay its side effects.
	if buttonIdx >= 0 {
		if err := store.Mutate(reportIdx, thread.Patch{ButtonDisabled: map[int]bool{buttonIdx: true}}); err != nil {
			return err
		}
	}

	if outcome.TriggerNextTurn {
		return e.completeLoop(ctx, sess, store, outcome.Extra)
	}
	return nil
}

// findClickableButton locates the clicked button on its report item and
// rejects the replay of one already disabled. A (-1, -1) button position
// means the action list is wired server-side without a visible button.
func (e *Engine) findClickableButton(sess *domain.Session, store *thread.Store, in *domain.Interaction) (int, int, error) {
	if in.ReportKey == "" {
		return -1, -1, nil
	}

	idx, err := store.FindReport(in.ReportKey)
	if err != nil {
		return -1, -1, fmt.Errorf("report %q: %w", in.ReportKey, domain.ErrValidation)
	}
	for bi, b := range sess.Thread[idx].Buttons {
		if b.ActionList != in.Button {
			continue
		}
		if b.Disabled {
			return -1, -1, fmt.Errorf("button %q on report %q is disabled: %w", in.Button, in.ReportKey, domain.ErrValidation)
		}
		return idx, bi, nil
	}
	return -1, -1, nil
}

// completeLoop calls the model, dispatches any proposed tool calls and loops
// so the model can react to their outputs, up to the hop ceiling.
func (e *Engine) completeLoop(ctx context.Context, sess *domain.Session, store *thread.Store, extra map[string]any) error {
	for hop := 0; hop < e.maxHops; hop++ {
		res, millis, err := e.complete(ctx, sess, store, extra)
		if err != nil {
			return err
		}

		usage := &domain.TokenUsage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
		}
		if res.Content != "" {
			store.Append(domain.NewAssistantItem(res.Content, usage, millis))
			usage = nil
		}
		if len(res.ToolCalls) == 0 {
			return nil
		}

		for i, tc := range res.ToolCalls {
			it := domain.NewToolCallItem(tc.ID, tc.Name, tc.Arguments)
			// Token usage of a tool-call-only response rides on the first
			// call item so metrics stay reconstructible from the thread.
			if i == 0 && usage != nil {
				it.Usage = usage
				it.ResponseMillis = millis
			}
			store.Append(it)
		}

		if _, err := e.dispatcher.Dispatch(ctx, sess, store, res.ToolCalls, extra); err != nil {
			return err
		}
	}

	log.Warn().
		Str("ref_code", sess.RefCode).
		Int("max_hops", e.maxHops).
		Msg("turn reached completion hop ceiling")
	return nil
}

// complete performs one completion call with freshly rendered instructions
// and the currently enabled tool set.
func (e *Engine) complete(ctx context.Context, sess *domain.Session, store *thread.Store, extra map[string]any) (*llm.Result, int64, error) {
	tctx := tmplctx.Build(e.tenant.Constants, sess, extra)

	msgs := []llm.Message{{Role: "system", Content: e.tenant.RenderTemplate("instructions", tctx)}}
	for _, m := range store.ModelView() {
		msgs = append(msgs, llm.Message{
			Role:      m.Role,
			Content:   m.Content,
			CallID:    m.CallID,
			ToolName:  m.ToolName,
			Arguments: m.Arguments,
		})
	}

	req := &llm.Request{
		Model:       e.tenant.Model.Model,
		MaxTokens:   e.tenant.Model.MaxTokens,
		Temperature: e.tenant.Model.Temperature,
		Messages:    msgs,
		Tools:       e.enabledTools(tctx),
	}

	start := time.Now()
	res, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("completion: %w", err)
	}
	return res, time.Since(start).Milliseconds(), nil
}

// enabledTools advertises the tool handlers whose enable condition holds, in
// stable name order.
func (e *Engine) enabledTools(tctx tmplctx.Context) []llm.ToolDef {
	names := make([]string, 0, len(e.tenant.Tools))
	for name := range e.tenant.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var defs []llm.ToolDef
	for _, name := range names {
		h := e.tenant.Tools[name]
		if !e.tenant.ToolEnabled(h, tctx) {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        name,
			Description: h.Description,
			Schema:      h.SchemaJSON(),
		})
	}
	return defs
}

// persist recomputes metrics from the thread and saves the session, then
// returns the items the turn appended.
func (e *Engine) persist(ctx context.Context, sess *domain.Session, base int) ([]domain.ThreadItem, error) {
	sess.Metrics = domain.RecomputeMetrics(sess.Thread)
	sess.UpdatedAt = time.Now().UTC()

	if err := e.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("engine.Engine.persist: %w", err)
	}

	items := make([]domain.ThreadItem, len(sess.Thread)-base)
	copy(items, sess.Thread[base:])
	return items, nil
}
