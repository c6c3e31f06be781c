// Package publish defines the completion-event publisher boundary.
package publish

import "context"

// Publisher pushes task-completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}
