package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/breaker"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type erroringLookup struct{ err error }

func (l erroringLookup) ResolveUser(context.Context, users.Identifier) (users.User, error) {
	return users.User{}, l.err
}

func TestDispatchDirectRecipient(t *testing.T) {
	sender := &fakeSender{}
	to, err := NewDispatcher(nil, sender).Dispatch(context.Background(), Notification{
		Recipient: RecipientRef{Username: "alice", Email: "a@x.com"},
		Subject:   "s",
		Body:      "b",
	})
	require.NoError(t, err)
	assert.Equal(t, users.User{Username: "alice", Email: "a@x.com"}, to)
	assert.Equal(t, []sentEmail{{To: "a@x.com", Subject: "s", Body: "b"}}, sender.sent)
}

func TestDispatchLookupFailures(t *testing.T) {
	sender := &fakeSender{}
	n := Notification{Recipient: RecipientRef{Identifier: users.Username("carol"), Username: "carol"}}

	_, err := NewDispatcher(nil, sender).Dispatch(context.Background(), n)
	require.ErrorIs(t, err, ErrRecipientUnresolvable)

	_, err = NewDispatcher(fakeLookup{}, sender).Dispatch(context.Background(), n)
	require.ErrorIs(t, err, ErrRecipientUnresolvable)
	require.ErrorIs(t, err, users.ErrNotFound)

	outage := errors.New("platform unavailable")
	_, err = NewDispatcher(erroringLookup{err: outage}, sender).Dispatch(context.Background(), n)
	require.ErrorIs(t, err, ErrRecipientUnresolvable)
	require.ErrorIs(t, err, outage)

	_, err = NewDispatcher(fakeLookup{"name:carol": {Username: "carol"}}, sender).Dispatch(context.Background(), n)
	require.ErrorIs(t, err, ErrRecipientUnresolvable)

	assert.Empty(t, sender.sent)
}

func TestDispatchKeepsPayloadUsername(t *testing.T) {
	sender := &fakeSender{}
	to, err := NewDispatcher(fakeLookup{"id:8": {Email: "f@x.com"}}, sender).Dispatch(context.Background(), Notification{
		Recipient: RecipientRef{Identifier: users.ID("8"), Username: "frank"},
	})
	require.NoError(t, err)
	assert.Equal(t, users.User{Username: "frank", Email: "f@x.com"}, to)
}

func TestDispatchSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	to, err := NewDispatcher(nil, sender).Dispatch(context.Background(), Notification{
		Recipient: RecipientRef{Email: "a@x.com"},
	})
	require.ErrorIs(t, err, ErrEmailSendFailed)
	assert.Equal(t, "a@x.com", to.Email)
}

// rejectingSender refuses addresses on the nowhere domain the way a relay answers 550.
type rejectingSender struct{ fakeSender }

func (s *rejectingSender) Send(ctx context.Context, to, subject, body string) error {
	if to == "typo@nowhere" {
		return fmt.Errorf("%w: %s: 550 no such user", email.ErrRecipientRejected, to)
	}
	return s.fakeSender.Send(ctx, to, subject, body)
}

func TestRejectedRecipientsDoNotBlockOthers(t *testing.T) {
	inner := &rejectingSender{}
	b := breaker.New(nil, breaker.Config{Name: "email", Failures: 5, OpenFor: time.Hour, Ignore: email.IsRecipientRejected})
	d := NewDispatcher(nil, email.WithBreaker(inner, b))

	for i := 0; i < 10; i++ {
		_, err := d.Dispatch(context.Background(), Notification{Recipient: RecipientRef{Email: "typo@nowhere"}})
		require.ErrorIs(t, err, ErrEmailSendFailed)
		require.ErrorIs(t, err, email.ErrRecipientRejected)
	}
	_, err := d.Dispatch(context.Background(), Notification{Recipient: RecipientRef{Email: "good@x.com"}, Subject: "s"})
	require.NoError(t, err)
	assert.Equal(t, []sentEmail{{To: "good@x.com", Subject: "s"}}, inner.sent)
}
