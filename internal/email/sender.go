// Package email delivers notification messages over SMTP. A logging noop
// sender stands in when no SMTP server is configured.
package email

import "context"

// Sender delivers plain-text notification email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
