package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foyerhq/foyer/internal/action"
	"github.com/foyerhq/foyer/internal/domain"
	"github.com/foyerhq/foyer/internal/notify"
	"github.com/foyerhq/foyer/internal/tenantcfg"
	"github.com/foyerhq/foyer/internal/thread"
	"github.com/foyerhq/foyer/internal/tmplctx"
)

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, n notify.Notification) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, n)
	return "d-1", nil
}

type fakeExternal struct {
	calls  []string
	result any
	err    error
}

func (f *fakeExternal) Invoke(_ context.Context, target, op string, _ map[string]any) (any, error) {
	f.calls = append(f.calls, target+"."+op)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTenant(t *testing.T, actions map[string]*tenantcfg.ActionDef) *tenantcfg.Tenant {
	t.Helper()
	tenant := &tenantcfg.Tenant{
		TenantID:      uuid.New(),
		Constants:     map[string]any{"company": "Acme"},
		SensitiveKeys: []string{"email"},
		Templates: map[string]string{
			"confirmation": "Saved {{.postal_code}} for {{.company}}",
			"report_body":  "Report {{.ref_code}}: ticket {{.ticket_id}}",
		},
		Forms: map[string]*tenantcfg.Form{
			"contact": {Template: "confirmation", Fields: []tenantcfg.FormField{{Name: "postal_code", Required: true}}},
		},
		Actions: actions,
	}
	require.NoError(t, tenantcfg.Prepare(tenant, tmplctx.NewRenderer("")))
	return tenant
}

func run(t *testing.T, tenant *tenantcfg.Tenant, notifier notify.Notifier, ext action.External, sess *domain.Session, names ...string) (*action.Outcome, error) {
	t.Helper()
	reg := notify.NewRegistry()
	if notifier != nil {
		reg.Register("email", notifier)
	}
	actions, err := tenant.ActionsFor(names)
	require.NoError(t, err)

	exec := action.NewExecutor(tenant, tmplctx.NewRenderer(""), reg, ext)
	store := thread.New(&sess.Thread)
	return exec.Run(t.Context(), sess, store, actions, nil)
}

func TestUpdateSessionResolvesPlaceholders(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"save": {Kind: tenantcfg.ActionUpdateSession, Params: map[string]any{
			"patch": map[string]any{"greeting": "Hello from {{.company}}"},
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, nil, nil, sess, "save")
	require.NoError(t, err)
	assert.Empty(t, outcome.Failed())
	assert.Equal(t, "Hello from Acme", sess.SessionData["greeting"])
}

func TestLaterActionSeesEarlierMutation(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"save": {Kind: tenantcfg.ActionUpdateSession, Params: map[string]any{
			"patch": map[string]any{"postal_code": "1011AB"},
		}},
		"confirm": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "notification",
			"template":  "confirmation",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	_, err := run(t, tenant, nil, nil, sess, "save", "confirm")
	require.NoError(t, err)

	require.Len(t, sess.Thread, 1)
	assert.Equal(t, domain.MetaNotification, sess.Thread[0].MetaRole)
	assert.Equal(t, "Saved 1011AB for Acme", sess.Thread[0].Content)
}

func TestNonGatingFailureIsIsolated(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"notify": {Kind: tenantcfg.ActionSendNotification, Params: map[string]any{
			"recipient": "ops@acme.test", "subject": "s", "content": "b",
		}},
		"after": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "notification", "content": "still ran",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, &fakeNotifier{err: errors.New("smtp down")}, nil, sess, "notify", "after")

	require.NoError(t, err, "non-gating failures do not abort the list")
	require.Len(t, outcome.Results, 2)
	assert.Error(t, outcome.Results[0].Err)
	assert.NoError(t, outcome.Results[1].Err)
	require.Len(t, sess.Thread, 1)
	assert.Equal(t, "still ran", sess.Thread[0].Content)
}

func TestGatingFailureHaltsList(t *testing.T) {
	t.Parallel()

	ext := &fakeExternal{err: errors.New("backend rejected report")}
	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"submit": {Kind: tenantcfg.ActionInvokeResource, Gating: true, Params: map[string]any{
			"target": "casedesk", "op": "submit_report",
		}},
		"after": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "notification", "content": "never runs",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, nil, ext, sess, "submit", "after")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatingActionFailed)
	require.Len(t, outcome.Results, 1, "remaining actions are not run")
	assert.Empty(t, sess.Thread)
}

func TestInvokeResultFeedsLaterTemplates(t *testing.T) {
	t.Parallel()

	ext := &fakeExternal{result: "T-1234"}
	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"create_ticket": {Kind: tenantcfg.ActionInvokeTool, ResultKey: "ticket_id", Params: map[string]any{
			"target": "casedesk", "op": "create_ticket",
			"args": map[string]any{"kind": "leak"},
		}},
		"show": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "report", "report_key": "leak", "template": "report_body",
			"buttons": []any{map[string]any{"label": "Resend", "action_list": "resend_report"}},
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, nil, ext, sess, "create_ticket", "show")
	require.NoError(t, err)

	assert.Equal(t, []string{"casedesk.create_ticket"}, ext.calls)
	assert.Equal(t, "T-1234", outcome.Extra["ticket_id"])

	require.Len(t, sess.Thread, 1)
	item := sess.Thread[0]
	assert.Equal(t, domain.MetaReport, item.MetaRole)
	assert.Equal(t, "leak", item.ReportKey)
	assert.Contains(t, item.Content, "ticket T-1234")
	require.Len(t, item.Buttons, 1)
	assert.Equal(t, "resend_report", item.Buttons[0].ActionList)
}

func TestTriggerNextTurn(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"loop": {Kind: tenantcfg.ActionTriggerNextTurn},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, nil, nil, sess, "loop")
	require.NoError(t, err)
	assert.True(t, outcome.TriggerNextTurn)
}

func TestNotificationAtMostOnce(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"email_report": {Kind: tenantcfg.ActionSendNotification, Params: map[string]any{
			"recipient": "ops@acme.test", "subject": "Report", "content": "body",
			"mark_delivered": "report_emailed",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")

	_, err := run(t, tenant, notifier, nil, sess, "email_report")
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)
	assert.True(t, sess.Delivery["report_emailed"])

	// Re-running (retry after crash) must not send again.
	_, err = run(t, tenant, notifier, nil, sess, "email_report")
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 1)
}

func TestAppendFormItem(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"ask_contact": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "form", "form_key": "contact",
		}},
		"bad_form": {Kind: tenantcfg.ActionAppendThreadItem, Params: map[string]any{
			"meta_role": "form", "form_key": "missing",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	outcome, err := run(t, tenant, nil, nil, sess, "ask_contact", "bad_form")
	require.NoError(t, err)

	require.Len(t, sess.Thread, 1)
	assert.Equal(t, domain.MetaForm, sess.Thread[0].MetaRole)
	assert.Equal(t, "contact", sess.Thread[0].FormKey)
	assert.False(t, sess.Thread[0].Submitted)

	failed := outcome.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, domain.ErrNotFound)
}

func TestReportStateUpdate(t *testing.T) {
	t.Parallel()

	tenant := newTenant(t, map[string]*tenantcfg.ActionDef{
		"finalize": {Kind: tenantcfg.ActionUpdateSession, Params: map[string]any{
			"report": map[string]any{
				"key":       "leak",
				"fields":    map[string]any{"severity": "high"},
				"submitted": true,
			},
			"mark_delivered": "report_submitted",
		}},
	})

	sess := domain.NewSession(tenant.TenantID, "intake")
	_, err := run(t, tenant, nil, nil, sess, "finalize")
	require.NoError(t, err)

	rep := sess.Reports["leak"]
	require.NotNil(t, rep)
	assert.True(t, rep.Submitted)
	require.NotNil(t, rep.SubmittedAt)
	assert.Equal(t, "high", rep.Fields["severity"])
	assert.True(t, sess.Delivery["report_submitted"])
}
