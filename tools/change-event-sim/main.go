package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
	"github.com/md-rashed-zaman/freelance-notify/libs/config"
	"github.com/md-rashed-zaman/freelance-notify/libs/runtime"
	"github.com/segmentio/encoding/json"
)

func main() {
	var (
		brokers = flag.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "kafka brokers, comma separated")
		entity  = flag.String("entity", config.String("ENTITY_KIND", "task"), "entity kind: user, task or proposal")
		change  = flag.String("change", config.String("CHANGE_KIND", "freelancer_assigned"), "change kind, e.g. created or sent_for_review")
		id      = flag.String("id", config.String("ENTITY_ID", "1"), "entity id, used as the record key")
		fields  = flag.String("fields", config.String("ENTITY_FIELDS", ""), "entity snapshot as a JSON object")
		timeout = flag.Duration("timeout", 10*time.Second, "publish timeout")
	)
	flag.Parse()

	snapshot := changes.Snapshot{
		Kind: changes.EntityKind(strings.ToLower(strings.TrimSpace(*entity))),
		ID:   strings.TrimSpace(*id),
	}
	if strings.TrimSpace(*fields) != "" {
		if err := json.Unmarshal([]byte(*fields), &snapshot.Fields); err != nil {
			fatal("fields must be a JSON object: " + err.Error())
		}
	} else {
		snapshot.Fields = sampleFields(snapshot.Kind, snapshot.ID)
	}

	kind := changes.ChangeKind(strings.ToLower(strings.TrimSpace(*change)))
	topic, err := changes.TopicFor(snapshot.Kind, kind)
	if err != nil {
		fatal(err.Error())
	}

	logger := runtime.NewLoggerTo(os.Stderr, "change-event-sim", runtime.ParseLevel(config.String("LOG_LEVEL", "info")))
	if err := publish(logger, *brokers, *timeout, snapshot, kind); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("published topic=%s key=%s\n", topic, snapshot.ID)
}

// publish closes the publisher before returning so the caller may exit right away.
func publish(logger *slog.Logger, brokers string, timeout time.Duration, snapshot changes.Snapshot, kind changes.ChangeKind) error {
	publisher := changes.NewPublisher(logger, changes.PublisherConfig{Brokers: brokers, Sync: true})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := publisher.Publish(ctx, snapshot, kind)
	if closeErr := publisher.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// sampleFields builds a snapshot shaped like the platform's entities.
func sampleFields(kind changes.EntityKind, id string) map[string]any {
	switch kind {
	case changes.EntityUser:
		return map[string]any{"id": id, "username": "alice", "email": "alice@freelance.local"}
	case changes.EntityProposal:
		return map[string]any{"id": id, "freelancerId": "2", "taskId": "1"}
	default:
		return map[string]any{
			"id":         id,
			"title":      "Fix login bug",
			"customer":   map[string]any{"id": "1", "username": "carol", "email": "carol@freelance.local"},
			"freelancer": map[string]any{"id": "2", "username": "alice", "email": "alice@freelance.local"},
		}
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
