package notify

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
)

type route struct {
	strategy Strategy
	required []string
	subject  *template.Template
	body     *template.Template
}

func newRoute(topic changes.Topic, s Strategy, required []string, subject, body string) route {
	return route{
		strategy: s,
		required: required,
		subject:  template.Must(template.New(topic.String() + ".subject").Parse(subject)),
		body:     template.Must(template.New(topic.String() + ".body").Parse(body)),
	}
}

// routes is read-only after init; workers share it without locking.
var routes = map[changes.Topic]route{
	changes.UserCreated: newRoute(changes.UserCreated, NotifyUser, []string{"username"},
		"Welcome to the freelance platform",
		"Hello {{.User.Username}},\n\nyour account has been created. You can now post tasks and send proposals."),
	changes.UserUpdated: newRoute(changes.UserUpdated, NotifyUser, []string{"username"},
		"Your profile was updated",
		"Hello {{.User.Username}},\n\nthe details of your account were changed. If this was not you, contact support."),
	changes.UserDeleted: newRoute(changes.UserDeleted, NotifyUser, []string{"username"},
		"Your account was deleted",
		"Hello {{.User.Username}},\n\nyour account has been removed from the freelance platform."),

	changes.TaskCreated: newRoute(changes.TaskCreated, NotifyNobody, []string{"title"}, "", ""),
	changes.TaskUpdated: newRoute(changes.TaskUpdated, NotifyNobody, []string{"title"}, "", ""),
	changes.TaskDeleted: newRoute(changes.TaskDeleted, NotifyNobody, []string{"title"}, "", ""),
	changes.TaskPosted: newRoute(changes.TaskPosted, NotifyNobody, []string{"title"},
		"Task posted: {{.Title}}",
		"Task \"{{.Title}}\" is now open for proposals."),
	changes.TaskFreelancerAssigned: newRoute(changes.TaskFreelancerAssigned, NotifyFreelancer, []string{"title"},
		"You were assigned to \"{{.Title}}\"",
		"Hello {{.Freelancer.Username}},\n\nyou have been assigned to the task \"{{.Title}}\". Good luck!"),
	changes.TaskAccepted: newRoute(changes.TaskAccepted, NotifyCustomer, []string{"title"},
		"Task \"{{.Title}}\" was accepted",
		"Your task \"{{.Title}}\" was accepted{{with .Freelancer.Username}} by {{.}}{{end}}."),
	changes.TaskFreelancerRemoved: newRoute(changes.TaskFreelancerRemoved, NotifyFreelancer, []string{"title"},
		"You were removed from \"{{.Title}}\"",
		"Hello {{.Freelancer.Username}},\n\nyou are no longer assigned to the task \"{{.Title}}\"."),
	changes.TaskSentForReview: newRoute(changes.TaskSentForReview, NotifyCustomer, []string{"title"},
		"Task \"{{.Title}}\" was sent for review",
		"{{with .Freelancer.Username}}{{.}}{{else}}The freelancer{{end}} submitted a solution for \"{{.Title}}\". Please review it."),

	changes.ProposalCreated: newRoute(changes.ProposalCreated, NotifyFreelancer, []string{"freelancerId"},
		"Your proposal was submitted",
		"Your proposal{{with .TaskID}} for task #{{.}}{{end}} was submitted to the customer."),
	changes.ProposalUpdated: newRoute(changes.ProposalUpdated, NotifyNobody, nil, "", ""),
	changes.ProposalDeleted: newRoute(changes.ProposalDeleted, NotifyFreelancer, []string{"freelancerId"},
		"Your proposal was withdrawn",
		"Your proposal{{with .TaskID}} for task #{{.}}{{end}} was withdrawn."),
}

// Notification is the per-record plan: who to notify and what to say.
type Notification struct {
	Topic     changes.Topic
	Strategy  Strategy
	Fields    Fields
	Recipient RecipientRef
	Subject   string
	Body      string
}

// Skip reports that the topic's rule notifies nobody.
func (n Notification) Skip() bool {
	return n.Strategy == NotifyNobody
}

func lookupRoute(t changes.Topic) (route, error) {
	r, ok := routes[t]
	if !ok {
		return route{}, fmt.Errorf("%w: no route for %s", changes.ErrUnknownTopic, t)
	}
	return r, nil
}

func StrategyFor(t changes.Topic) (Strategy, error) {
	r, err := lookupRoute(t)
	return r.strategy, err
}

func SubjectFor(t changes.Topic, f Fields) (string, error) {
	r, err := lookupRoute(t)
	if err != nil {
		return "", err
	}
	return render(r.subject, f)
}

func BodyFor(t changes.Topic, f Fields) (string, error) {
	r, err := lookupRoute(t)
	if err != nil {
		return "", err
	}
	return render(r.body, f)
}

// Plan is a pure function of topic and payload. A missing required field is a malformed payload.
func Plan(t changes.Topic, p changes.Payload) (Notification, error) {
	r, err := lookupRoute(t)
	if err != nil {
		return Notification{}, err
	}
	for _, path := range r.required {
		if !p.Has(path) {
			return Notification{}, fmt.Errorf("%w: %s requires %q", changes.ErrMalformedPayload, t, path)
		}
	}

	f := Extract(p)
	n := Notification{Topic: t, Strategy: r.strategy, Fields: f}
	if n.Subject, err = render(r.subject, f); err != nil {
		return Notification{}, err
	}
	if n.Body, err = render(r.body, f); err != nil {
		return Notification{}, err
	}
	if n.Recipient, err = r.strategy.Recipient(f); err != nil {
		return n, err
	}
	return n, nil
}

func render(tmpl *template.Template, f Fields) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, f); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
