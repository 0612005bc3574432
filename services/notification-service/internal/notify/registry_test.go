package notify

import (
	"testing"

	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) changes.Payload {
	t.Helper()
	p, err := changes.Decode([]byte(raw))
	require.NoError(t, err)
	return p
}

func TestEveryTopicHasARoute(t *testing.T) {
	for _, topic := range changes.Topics() {
		_, err := StrategyFor(topic)
		require.NoError(t, err, topic.String())
	}
	_, err := StrategyFor(changes.Topic(0))
	require.ErrorIs(t, err, changes.ErrUnknownTopic)
}

func TestStrategySelection(t *testing.T) {
	cases := map[changes.Topic]Strategy{
		changes.UserCreated:            NotifyUser,
		changes.TaskPosted:             NotifyNobody,
		changes.TaskFreelancerAssigned: NotifyFreelancer,
		changes.TaskAccepted:           NotifyCustomer,
		changes.TaskFreelancerRemoved:  NotifyFreelancer,
		changes.TaskSentForReview:      NotifyCustomer,
		changes.ProposalCreated:        NotifyFreelancer,
		changes.ProposalUpdated:        NotifyNobody,
	}
	for topic, want := range cases {
		got, err := StrategyFor(topic)
		require.NoError(t, err)
		assert.Equal(t, want, got, topic.String())
	}
}

func TestPlanFreelancerAssigned(t *testing.T) {
	n, err := Plan(changes.TaskFreelancerAssigned, decode(t, `{
		"id": 12,
		"title": "Fix bug",
		"freelancer": {"username": "alice", "email": "a@x.com"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, NotifyFreelancer, n.Strategy)
	assert.Contains(t, n.Subject, "Fix bug")
	assert.Contains(t, n.Body, "alice")
	assert.Equal(t, RecipientRef{Username: "alice", Email: "a@x.com"}, n.Recipient)
	assert.True(t, n.Recipient.Direct())
	assert.Equal(t, "12", n.Fields.EntityID)
}

func TestPlanPostedWithoutFreelancer(t *testing.T) {
	p := decode(t, `{"title": "New task", "freelancer": null}`)
	_, ok := p.String("freelancer.username")
	require.False(t, ok)

	n, err := Plan(changes.TaskPosted, p)
	require.NoError(t, err)
	assert.True(t, n.Skip())
	assert.Equal(t, "Task posted: New task", n.Subject)
}

func TestAbsentPlaceholdersRenderEmpty(t *testing.T) {
	body, err := BodyFor(changes.TaskFreelancerAssigned, Fields{Title: "Fix bug"})
	require.NoError(t, err)
	assert.Equal(t, "Hello ,\n\nyou have been assigned to the task \"Fix bug\". Good luck!", body)
	assert.NotContains(t, body, "<no value>")

	body, err = BodyFor(changes.TaskSentForReview, Fields{Title: "Fix bug"})
	require.NoError(t, err)
	assert.Equal(t, "The freelancer submitted a solution for \"Fix bug\". Please review it.", body)

	subject, err := SubjectFor(changes.TaskAccepted, Fields{})
	require.NoError(t, err)
	assert.Equal(t, "Task \"\" was accepted", subject)
}

func TestPlanRequiresTitle(t *testing.T) {
	_, err := Plan(changes.TaskAccepted, decode(t, `{"customer": {"email": "c@x.com"}}`))
	require.ErrorIs(t, err, changes.ErrMalformedPayload)

	_, err = Plan(changes.TaskAccepted, decode(t, `{"title": null}`))
	require.ErrorIs(t, err, changes.ErrMalformedPayload)
}

func TestPlanCustomerNeedsLookup(t *testing.T) {
	n, err := Plan(changes.TaskSentForReview, decode(t, `{
		"title": "Fix bug",
		"customer": {"id": 4, "username": "carol"},
		"freelancer": {"username": "alice"}
	}`))
	require.NoError(t, err)
	assert.False(t, n.Recipient.Direct())
	assert.Equal(t, users.Username("carol"), n.Recipient.Identifier)
	assert.Contains(t, n.Body, "alice submitted")
}

func TestPlanProposalByFreelancerID(t *testing.T) {
	n, err := Plan(changes.ProposalCreated, decode(t, `{"id": 3, "freelancerId": 8, "taskId": 12}`))
	require.NoError(t, err)
	assert.Equal(t, RecipientRef{Identifier: users.ID("8")}, n.Recipient)
	assert.Equal(t, "Your proposal for task #12 was submitted to the customer.", n.Body)
}

func TestPlanUnresolvableRecipient(t *testing.T) {
	n, err := Plan(changes.TaskFreelancerRemoved, decode(t, `{"title": "Fix bug", "freelancer": null}`))
	require.ErrorIs(t, err, ErrRecipientUnresolvable)
	assert.Equal(t, NotifyFreelancer, n.Strategy)
}

func TestPlanUserTopic(t *testing.T) {
	n, err := Plan(changes.UserCreated, decode(t, `{"id": 1, "username": "bob", "email": "b@x.com", "role": "CUSTOMER"}`))
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", n.Recipient.Email)
	assert.Contains(t, n.Body, "Hello bob")
}
