package transport

import "context"

// Sender delivers rendered text to a single recipient.
//
// Implementations return per-recipient failures (blocked bot, deleted
// account, transport error) as ordinary errors; callers treat them as
// non-fatal and decide whether to retry.
type Sender interface {
	Send(ctx context.Context, recipient int64, text string) error
}
