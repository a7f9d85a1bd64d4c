package domain

import "fmt"

// InteractionKind discriminates the inbound interaction payload.
type InteractionKind string

const (
	InteractionMessage     InteractionKind = "message"
	InteractionFormSubmit  InteractionKind = "form_submit"
	InteractionButtonClick InteractionKind = "button_click"
)

// Interaction is one inbound client event for a session: a free-text
// message, a form submission, or a button click.
type Interaction struct {
	Kind InteractionKind `json:"kind"`

	// message
	Text string `json:"text,omitempty"`

	// form_submit
	FormKey string         `json:"form_key,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`

	// button_click
	ReportKey string `json:"report_key,omitempty"`
	Button    string `json:"button,omitempty"`
}

// Validate rejects malformed payloads before any thread mutation.
func (in *Interaction) Validate() error {
	switch in.Kind {
	case InteractionMessage:
		if in.Text == "" {
			return fmt.Errorf("message interaction requires text: %w", ErrValidation)
		}
	case InteractionFormSubmit:
		if in.FormKey == "" {
			return fmt.Errorf("form_submit interaction requires form_key: %w", ErrValidation)
		}
	case InteractionButtonClick:
		if in.Button == "" {
			return fmt.Errorf("button_click interaction requires button: %w", ErrValidation)
		}
	default:
		return fmt.Errorf("unknown interaction kind %q: %w", in.Kind, ErrValidation)
	}
	return nil
}
