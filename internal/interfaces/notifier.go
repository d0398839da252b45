package interfaces

import "context"

// Notifier pushes short human-readable alerts out of the process.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
