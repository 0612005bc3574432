package notify

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
)

var ErrRecipientUnresolvable = errors.New("recipient unresolvable")

// Strategy decides which party of a change gets the email.
type Strategy uint8

const (
	NotifyNobody Strategy = iota
	NotifyUser
	NotifyFreelancer
	NotifyCustomer
)

func (s Strategy) String() string {
	switch s {
	case NotifyNobody:
		return "nobody"
	case NotifyUser:
		return "user"
	case NotifyFreelancer:
		return "freelancer"
	case NotifyCustomer:
		return "customer"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// RecipientRef is either direct (Email set) or needs a lookup by Identifier.
type RecipientRef struct {
	Username   string
	Email      string
	Identifier users.Identifier
}

func (r RecipientRef) Direct() bool {
	return r.Email != ""
}

// Recipient picks the party to notify. NotifyNobody yields the zero ref and no error.
func (s Strategy) Recipient(f Fields) (RecipientRef, error) {
	var p Party
	switch s {
	case NotifyNobody:
		return RecipientRef{}, nil
	case NotifyUser:
		p = f.User
	case NotifyFreelancer:
		p = f.Freelancer
	case NotifyCustomer:
		p = f.Customer
	default:
		return RecipientRef{}, fmt.Errorf("%w: unknown strategy %s", ErrRecipientUnresolvable, s)
	}

	ref := RecipientRef{Username: p.Username, Email: p.Email}
	if ref.Direct() {
		return ref, nil
	}
	switch {
	case p.Username != "":
		ref.Identifier = users.Username(p.Username)
	case p.ID != "":
		ref.Identifier = users.ID(p.ID)
	default:
		return RecipientRef{}, fmt.Errorf("%w: %s has no email, username or id", ErrRecipientUnresolvable, s)
	}
	return ref, nil
}
