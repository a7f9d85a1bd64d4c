package domain

// SessionMetrics holds derived counters for a session. They are accumulated
// incrementally as turns complete and recomputed from the thread on load;
// the recomputation is authoritative, so the thread remains the single
// source of truth.
type SessionMetrics struct {
	UserMessages      int   `json:"user_messages"`
	AssistantMessages int   `json:"assistant_messages"`
	ToolCalls         int   `json:"tool_calls"`
	FlaggedMessages   int   `json:"flagged_messages"`
	PromptTokens      int   `json:"prompt_tokens"`
	CompletionTokens  int   `json:"completion_tokens"`
	TotalResponseMS   int64 `json:"total_response_ms"`
	MaxResponseMS     int64 `json:"max_response_ms"`
}

// TotalTokens returns prompt plus completion tokens.
func (m *SessionMetrics) TotalTokens() int {
	return m.PromptTokens + m.CompletionTokens
}

// Observe folds a single thread item into the counters.
func (m *SessionMetrics) Observe(it *ThreadItem) {
	switch it.MetaRole {
	case MetaUser:
		m.UserMessages++
	case MetaAssistant:
		m.AssistantMessages++
	case MetaToolCall:
		m.ToolCalls++
	case MetaFlagged:
		m.FlaggedMessages++
	case MetaSystem, MetaToolOutput, MetaForm, MetaReport, MetaNotification:
	}
	if it.Usage != nil {
		m.PromptTokens += it.Usage.PromptTokens
		m.CompletionTokens += it.Usage.CompletionTokens
	}
	if it.ResponseMillis > 0 {
		m.TotalResponseMS += it.ResponseMillis
		if it.ResponseMillis > m.MaxResponseMS {
			m.MaxResponseMS = it.ResponseMillis
		}
	}
}

// RecomputeMetrics rebuilds the counters from scratch. Pure function of the
// thread: two sessions with identical threads always yield identical metrics.
func RecomputeMetrics(thread []ThreadItem) SessionMetrics {
	var m SessionMetrics
	for i := range thread {
		m.Observe(&thread[i])
	}
	return m
}
