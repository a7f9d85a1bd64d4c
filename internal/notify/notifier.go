// Package notify is the outbound notification boundary: email and chat
// delivery for send_notification actions. Failures are reported to the
// caller, never retried indefinitely.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// ErrChannelNotFound is returned when a notification channel is not registered.
var ErrChannelNotFound = errors.New("notify: channel not found")

// Notification is one rendered outbound message.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
	ThreadID  string // optional chat thread to reply into
}

// Notifier delivers a notification on one channel and returns a delivery ID.
type Notifier interface {
	Send(ctx context.Context, n Notification) (deliveryID string, err error)
}

// Registry maps channel names ("email", "slack") to Notifier implementations.
// Read-only after startup wiring.
type Registry struct {
	channels map[string]Notifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Notifier)}
}

// Register adds a notifier for the given channel name.
func (r *Registry) Register(channel string, n Notifier) {
	r.channels[channel] = n
}

// Send delivers a notification on the named channel.
func (r *Registry) Send(ctx context.Context, channel string, n Notification) (string, error) {
	notifier, ok := r.channels[channel]
	if !ok {
		return "", fmt.Errorf("notify.Registry.Send: channel %q: %w", channel, ErrChannelNotFound)
	}

	id, err := notifier.Send(ctx, n)
	if err != nil {
		return "", fmt.Errorf("notify.Registry.Send: %s: %w", channel, err)
	}
	return id, nil
}
