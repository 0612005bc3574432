package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
)

var ErrEmailSendFailed = errors.New("email send failed")

// Dispatcher resolves the recipient and sends. It keeps no per-call state and never retries.
type Dispatcher struct {
	lookup users.Lookup
	sender email.Sender
}

func NewDispatcher(lookup users.Lookup, sender email.Sender) *Dispatcher {
	return &Dispatcher{lookup: lookup, sender: sender}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (users.User, error) {
	to, err := d.resolve(ctx, n.Recipient)
	if err != nil {
		return users.User{}, err
	}
	if err := d.sender.Send(ctx, to.Email, n.Subject, n.Body); err != nil {
		return to, fmt.Errorf("%w: %w", ErrEmailSendFailed, err)
	}
	return to, nil
}

func (d *Dispatcher) resolve(ctx context.Context, ref RecipientRef) (users.User, error) {
	if ref.Direct() {
		return users.User{Username: ref.Username, Email: ref.Email}, nil
	}
	if ref.Identifier.IsZero() {
		return users.User{}, fmt.Errorf("%w: nothing to look up", ErrRecipientUnresolvable)
	}
	if d.lookup == nil {
		return users.User{}, fmt.Errorf("%w: no user lookup configured for %q", ErrRecipientUnresolvable, ref.Identifier)
	}
	u, err := d.lookup.ResolveUser(ctx, ref.Identifier)
	if err != nil {
		return users.User{}, fmt.Errorf("%w: lookup %q: %w", ErrRecipientUnresolvable, ref.Identifier, err)
	}
	if u.Email == "" {
		return users.User{}, fmt.Errorf("%w: %q has no email", ErrRecipientUnresolvable, ref.Identifier)
	}
	if u.Username == "" {
		u.Username = ref.Username
	}
	return u, nil
}
