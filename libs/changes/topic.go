// Package changes defines the change-event contract shared by the platform (producer) and the
// notification service (consumer): the closed topic taxonomy, the envelope codec and the publisher.
package changes

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTopic = errors.New("unknown topic")

type EntityKind string

const (
	EntityUser     EntityKind = "user"
	EntityTask     EntityKind = "task"
	EntityProposal EntityKind = "proposal"
)

type ChangeKind string

const (
	Created            ChangeKind = "created"
	Updated            ChangeKind = "updated"
	Deleted            ChangeKind = "deleted"
	Posted             ChangeKind = "posted"
	FreelancerAssigned ChangeKind = "freelancer_assigned"
	Accepted           ChangeKind = "accepted"
	FreelancerRemoved  ChangeKind = "freelancer_removed"
	SentForReview      ChangeKind = "sent_for_review"
)

// Topic is one of the broker topics in the taxonomy. The zero value is not a topic.
type Topic uint8

const (
	UserCreated Topic = iota + 1
	UserUpdated
	UserDeleted
	TaskCreated
	TaskUpdated
	TaskDeleted
	TaskPosted
	TaskFreelancerAssigned
	TaskAccepted
	TaskFreelancerRemoved
	TaskSentForReview
	ProposalCreated
	ProposalUpdated
	ProposalDeleted
)

type topicDef struct {
	name   string
	entity EntityKind
	change ChangeKind
}

// Wire names are the Kafka topic names the platform has always used; do not rename.
var topicDefs = [...]topicDef{
	UserCreated:            {"user_created", EntityUser, Created},
	UserUpdated:            {"user_updated", EntityUser, Updated},
	UserDeleted:            {"user_deleted", EntityUser, Deleted},
	TaskCreated:            {"task_created", EntityTask, Created},
	TaskUpdated:            {"task_updated", EntityTask, Updated},
	TaskDeleted:            {"task_deleted", EntityTask, Deleted},
	TaskPosted:             {"task_posted", EntityTask, Posted},
	TaskFreelancerAssigned: {"freelancer_assigned", EntityTask, FreelancerAssigned},
	TaskAccepted:           {"task_accepted", EntityTask, Accepted},
	TaskFreelancerRemoved:  {"freelancer_removed", EntityTask, FreelancerRemoved},
	TaskSentForReview:      {"task_send_on_review", EntityTask, SentForReview},
	ProposalCreated:        {"proposal_created", EntityProposal, Created},
	ProposalUpdated:        {"proposal_updated", EntityProposal, Updated},
	ProposalDeleted:        {"proposal_deleted", EntityProposal, Deleted},
}

type topicKey struct {
	entity EntityKind
	change ChangeKind
}

var (
	byName = map[string]Topic{}
	byKind = map[topicKey]Topic{}
)

func init() {
	for i := range topicDefs {
		t := Topic(i)
		if !t.Valid() {
			continue
		}
		def := topicDefs[i]
		key := topicKey{def.entity, def.change}
		if _, dup := byName[def.name]; dup {
			panic("changes: duplicate topic name " + def.name)
		}
		if _, dup := byKind[key]; dup {
			panic("changes: duplicate topic for " + string(def.entity) + "/" + string(def.change))
		}
		byName[def.name] = t
		byKind[key] = t
	}
}

// TopicFor maps an (entity, change) pair to its topic.
func TopicFor(entity EntityKind, change ChangeKind) (Topic, error) {
	t, ok := byKind[topicKey{entity, change}]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownTopic, entity, change)
	}
	return t, nil
}

// ParseTopic resolves a wire name, ignoring case and surrounding whitespace.
func ParseTopic(name string) (Topic, error) {
	t, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	return t, nil
}

// Topics returns every topic in declaration order.
func Topics() []Topic {
	out := make([]Topic, 0, len(topicDefs)-1)
	for i := range topicDefs {
		if t := Topic(i); t.Valid() {
			out = append(out, t)
		}
	}
	return out
}

// TopicNames returns the wire names of topics, in the given order.
func TopicNames(topics []Topic) []string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.String())
	}
	return names
}

func (t Topic) Valid() bool {
	return t > 0 && int(t) < len(topicDefs)
}

func (t Topic) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Topic(%d)", uint8(t))
	}
	return topicDefs[t].name
}

func (t Topic) Entity() EntityKind {
	if !t.Valid() {
		return ""
	}
	return topicDefs[t].entity
}

func (t Topic) Change() ChangeKind {
	if !t.Valid() {
		return ""
	}
	return topicDefs[t].change
}
