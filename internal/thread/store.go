// Package thread implements the append-only conversation log for a session.
package thread

import (
	"fmt"

	"github.com/foyerhq/foyer/internal/domain"
)

// Patch is the set of fields Mutate may change on an existing item.
// Nil pointers leave the field untouched.
type Patch struct {
	Submitted      *bool
	Disabled       *bool
	ButtonDisabled map[int]bool // button index -> disabled
}

// Store wraps a session's item slice. Append is the only growth operation;
// items are never reordered or deleted. Not safe for concurrent use: the
// session worker serializes all access.
type Store struct {
	items *[]domain.ThreadItem
}

// New wraps the given item slice. The slice header is shared with the
// session, so appends are visible to the caller.
func New(items *[]domain.ThreadItem) *Store {
	return &Store{items: items}
}

// Len returns the current number of items.
func (s *Store) Len() int {
	return len(*s.items)
}

// Append adds an item to the end of the thread and returns its index.
func (s *Store) Append(item domain.ThreadItem) int {
	*s.items = append(*s.items, item)
	return len(*s.items) - 1
}

// Mutate applies a whitelisted patch to an existing item. An index outside
// [0, len) fails with domain.ErrNotFound and mutates nothing.
func (s *Store) Mutate(index int, patch Patch) error {
	if index < 0 || index >= len(*s.items) {
		return fmt.Errorf("thread.Store.Mutate: index %d: %w", index, domain.ErrNotFound)
	}

	it := &(*s.items)[index]
	if patch.Submitted != nil {
		it.Submitted = *patch.Submitted
	}
	if patch.Disabled != nil {
		it.Disabled = *patch.Disabled
	}
	for bi, disabled := range patch.ButtonDisabled {
		if bi < 0 || bi >= len(it.Buttons) {
			return fmt.Errorf("thread.Store.Mutate: button %d on item %d: %w", bi, index, domain.ErrNotFound)
		}
		it.Buttons[bi].Disabled = disabled
	}

	return nil
}

// Snapshot returns the items in exact append order. The returned slice is a
// copy; mutating it does not affect the store.
func (s *Store) Snapshot() []domain.ThreadItem {
	out := make([]domain.ThreadItem, len(*s.items))
	copy(out, *s.items)
	return out
}

// ModelMessage is one entry of the model-facing projection.
type ModelMessage struct {
	Role      string
	Content   string
	CallID    string
	ToolName  string
	Arguments []byte
}

// ModelView returns the model-facing projection: enabled items carrying a
// model-consumable message, reshaped to role-tagged messages in append
// order. Forms, reports, notifications and flagged items are excluded.
func (s *Store) ModelView() []ModelMessage {
	out := make([]ModelMessage, 0, len(*s.items))
	for i := range *s.items {
		it := &(*s.items)[i]
		if it.Disabled {
			continue
		}
		role, ok := it.ModelMessage()
		if !ok {
			continue
		}

		msg := ModelMessage{Role: role}
		switch it.MetaRole {
		case domain.MetaToolCall:
			msg.CallID = it.CallID
			msg.ToolName = it.ToolName
			msg.Arguments = it.Arguments
		case domain.MetaToolOutput:
			msg.CallID = it.CallID
			msg.ToolName = it.ToolName
			msg.Content = it.Result
		default:
			msg.Content = it.Message
		}
		out = append(out, msg)
	}
	return out
}

// FindForm returns the index of the most recent form item with the given
// key, or domain.ErrNotFound.
func (s *Store) FindForm(formKey string) (int, error) {
	for i := len(*s.items) - 1; i >= 0; i-- {
		it := &(*s.items)[i]
		if it.MetaRole == domain.MetaForm && it.FormKey == formKey {
			return i, nil
		}
	}
	return 0, fmt.Errorf("thread.Store.FindForm: form %q: %w", formKey, domain.ErrNotFound)
}

// FindReport returns the index of the most recent report item with the given
// key, or domain.ErrNotFound.
func (s *Store) FindReport(reportKey string) (int, error) {
	for i := len(*s.items) - 1; i >= 0; i-- {
		it := &(*s.items)[i]
		if it.MetaRole == domain.MetaReport && it.ReportKey == reportKey {
			return i, nil
		}
	}
	return 0, fmt.Errorf("thread.Store.FindReport: report %q: %w", reportKey, domain.ErrNotFound)
}

// Bool is a convenience for building patches.
func Bool(v bool) *bool { return &v }
