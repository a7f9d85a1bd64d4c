package domain

import (
	"encoding/json"
	"time"
)

// MetaRole discriminates the ThreadItem union. Every consumer (model
// projection, client rendering, persistence) switches exhaustively on it.
type MetaRole string

const (
	MetaSystem       MetaRole = "system"
	MetaAssistant    MetaRole = "assistant"
	MetaUser         MetaRole = "user"
	MetaToolCall     MetaRole = "toolCall"
	MetaToolOutput   MetaRole = "toolOutput"
	MetaForm         MetaRole = "form"
	MetaReport       MetaRole = "report"
	MetaNotification MetaRole = "notification"
	MetaFlagged      MetaRole = "flagged"
)

// Button is an interactive element attached to a report item. Clicking it
// runs the named action list without a completion round-trip.
type Button struct {
	Label      string `json:"label"`
	ActionList string `json:"action_list"`
	Disabled   bool   `json:"disabled,omitempty"`
}

// TokenUsage annotates an assistant item with the token counts of the
// completion call that produced it, so metrics stay reconstructible from
// the thread alone.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ThreadItem is one event in the conversation timeline, a tagged union
// discriminated by MetaRole. Append sequence is the only ordering authority;
// Timestamp is advisory.
type ThreadItem struct {
	MetaRole  MetaRole  `json:"meta_role"`
	Timestamp time.Time `json:"timestamp"`

	// Message is the model-facing text for system/assistant/user variants.
	// Content is the separately displayed client-facing text; for form,
	// report and notification variants it is the rendered body.
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`

	// toolCall / toolOutput correlation.
	CallID    string          `json:"call_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// form / report state. Submitted and Disabled are the only fields that
	// may be mutated after append.
	FormKey   string   `json:"form_key,omitempty"`
	ReportKey string   `json:"report_key,omitempty"`
	Submitted bool     `json:"submitted,omitempty"`
	Disabled  bool     `json:"disabled,omitempty"`
	Buttons   []Button `json:"buttons,omitempty"`

	// flagged variant: the offending text lives in Message, the moderation
	// verdict categories here.
	Verdict []string `json:"verdict,omitempty"`

	Usage          *TokenUsage `json:"usage,omitempty"`
	ResponseMillis int64       `json:"response_millis,omitempty"`
}

// ModelMessage reports whether this item carries a model-consumable message
// and, if so, the completion role it maps to. Forms, reports, notifications
// and flagged items are client-only and excluded from the model projection.
func (it *ThreadItem) ModelMessage() (role string, ok bool) {
	switch it.MetaRole {
	case MetaSystem:
		return "system", true
	case MetaAssistant, MetaToolCall:
		return "assistant", true
	case MetaUser:
		return "user", true
	case MetaToolOutput:
		return "tool", true
	case MetaForm, MetaReport, MetaNotification, MetaFlagged:
		return "", false
	}
	return "", false
}

func NewSystemItem(message string) ThreadItem {
	return ThreadItem{MetaRole: MetaSystem, Timestamp: time.Now().UTC(), Message: message}
}

func NewUserItem(message string) ThreadItem {
	return ThreadItem{MetaRole: MetaUser, Timestamp: time.Now().UTC(), Message: message}
}

func NewAssistantItem(message string, usage *TokenUsage, responseMillis int64) ThreadItem {
	return ThreadItem{
		MetaRole:       MetaAssistant,
		Timestamp:      time.Now().UTC(),
		Message:        message,
		Usage:          usage,
		ResponseMillis: responseMillis,
	}
}

func NewToolCallItem(callID, toolName string, args json.RawMessage) ThreadItem {
	return ThreadItem{
		MetaRole:  MetaToolCall,
		Timestamp: time.Now().UTC(),
		CallID:    callID,
		ToolName:  toolName,
		Arguments: args,
	}
}

func NewToolOutputItem(callID, toolName, result string, isErr bool) ThreadItem {
	return ThreadItem{
		MetaRole:  MetaToolOutput,
		Timestamp: time.Now().UTC(),
		CallID:    callID,
		ToolName:  toolName,
		Result:    result,
		IsError:   isErr,
	}
}

func NewFormItem(formKey, content string) ThreadItem {
	return ThreadItem{MetaRole: MetaForm, Timestamp: time.Now().UTC(), FormKey: formKey, Content: content}
}

func NewReportItem(reportKey, content string, buttons []Button) ThreadItem {
	return ThreadItem{
		MetaRole:  MetaReport,
		Timestamp: time.Now().UTC(),
		ReportKey: reportKey,
		Content:   content,
		Buttons:   buttons,
	}
}

func NewNotificationItem(content string) ThreadItem {
	return ThreadItem{MetaRole: MetaNotification, Timestamp: time.Now().UTC(), Content: content}
}

func NewFlaggedItem(offending string, verdict []string) ThreadItem {
	return ThreadItem{MetaRole: MetaFlagged, Timestamp: time.Now().UTC(), Message: offending, Verdict: verdict}
}
