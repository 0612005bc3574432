package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/md-rashed-zaman/freelance-notify/libs/changes"
	"github.com/md-rashed-zaman/freelance-notify/libs/httpx"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/freelance-notify/services/notification-service/internal/users"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Outcome string

const (
	OutcomeDispatched       Outcome = "dispatched"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeMalformedPayload Outcome = "malformed_payload"
	OutcomeUnknownTopic     Outcome = "unknown_topic"
	OutcomeDispatchFailed   Outcome = "dispatch_failed"
)

// Record is one delivery from the broker.
type Record struct {
	Topic     string
	Key       []byte
	Value     []byte
	EventID   string
	Partition int
	Offset    int64
}

type dispatcher interface {
	Dispatch(ctx context.Context, n Notification) (users.User, error)
}

// Recorder keeps an audit row per attempt. Optional.
type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// UserCache drops cached recipients when a user changes. Optional.
type UserCache interface {
	Invalidate(ctx context.Context, ids ...users.Identifier) error
}

// Processor runs one record through parse, classify and dispatch. Every failure is
// terminal for the record and reported through logs; the caller always acknowledges.
type Processor struct {
	logger     *slog.Logger
	dispatcher dispatcher
	recorder   Recorder
	cache      UserCache
	processed  metric.Int64Counter
}

func NewProcessor(logger *slog.Logger, d dispatcher, recorder Recorder, cache UserCache) *Processor {
	counter, err := otel.Meter("notification-service").Int64Counter("notifications.processed",
		metric.WithDescription("Change events processed by outcome"))
	if err != nil {
		logger.Warn("metric registration failed", "err", err)
	}
	return &Processor{logger: logger, dispatcher: d, recorder: recorder, cache: cache, processed: counter}
}

func (p *Processor) Process(ctx context.Context, rec Record) Outcome {
	log := p.logger.With(
		"topic", rec.Topic,
		"event_id", rec.EventID,
		"partition", rec.Partition,
		"offset", rec.Offset,
	)

	payload, err := changes.Decode(rec.Value)
	if err != nil {
		log.Error("change event dropped",
			"event", "MalformedPayload",
			"correlation_id", correlationID(rec, ""),
			"payload_bytes", len(rec.Value),
			"err", err,
		)
		return p.finish(ctx, rec, "", storage.Notification{Status: storage.StatusFailed, Error: err.Error()}, OutcomeMalformedPayload)
	}

	entityID, _ := payload.String("id")
	corr := correlationID(rec, entityID)
	log = log.With("correlation_id", corr)
	ctx = httpx.ContextWithRequestID(ctx, corr)
	audit := storage.Notification{EntityID: entityID}

	topic, err := changes.ParseTopic(rec.Topic)
	if err != nil {
		log.Error("change event dropped", "event", "UnknownTopic", "err", err)
		audit.Status, audit.Error = storage.StatusFailed, err.Error()
		return p.finish(ctx, rec, "", audit, OutcomeUnknownTopic)
	}

	if topic == changes.UserUpdated || topic == changes.UserDeleted {
		p.invalidate(ctx, log, payload)
	}

	n, err := Plan(topic, payload)
	if err != nil {
		audit.Status, audit.Error = storage.StatusFailed, err.Error()
		if errors.Is(err, changes.ErrMalformedPayload) {
			log.Error("change event dropped", "event", "MalformedPayload", "payload_bytes", len(rec.Value), "err", err)
			return p.finish(ctx, rec, topic.String(), audit, OutcomeMalformedPayload)
		}
		log.Error("notification not sent", "event", failureEvent(err), "strategy", n.Strategy.String(), "err", err)
		return p.finish(ctx, rec, topic.String(), audit, OutcomeDispatchFailed)
	}
	audit.Subject = n.Subject

	if n.Skip() {
		log.Debug("no notification for topic")
		audit.Status = storage.StatusSkipped
		return p.finish(ctx, rec, topic.String(), audit, OutcomeSkipped)
	}

	to, err := p.dispatcher.Dispatch(ctx, n)
	audit.Recipient = to.Email
	if err != nil {
		log.Error("notification not sent",
			"event", failureEvent(err),
			"strategy", n.Strategy.String(),
			"recipient", to.Email,
			"err", err,
		)
		audit.Status, audit.Error = storage.StatusFailed, err.Error()
		return p.finish(ctx, rec, topic.String(), audit, OutcomeDispatchFailed)
	}

	log.Info("notification sent", "strategy", n.Strategy.String(), "recipient", to.Email)
	audit.Status = storage.StatusSent
	return p.finish(ctx, rec, topic.String(), audit, OutcomeDispatched)
}

func (p *Processor) finish(ctx context.Context, rec Record, topic string, audit storage.Notification, outcome Outcome) Outcome {
	if topic == "" {
		topic = "unclassified"
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("notification.outcome", string(outcome)))
	if p.processed != nil {
		p.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(outcome)),
			attribute.String("topic", topic),
		))
	}
	if p.recorder != nil {
		audit.EventID = rec.EventID
		audit.Topic = rec.Topic
		if err := p.recorder.Insert(ctx, audit); err != nil {
			p.logger.Warn("notification audit write failed", "event_id", rec.EventID, "err", err)
		}
	}
	return outcome
}

// invalidate runs before the notification so later records never see the old address.
func (p *Processor) invalidate(ctx context.Context, log *slog.Logger, payload changes.Payload) {
	if p.cache == nil {
		return
	}
	u := party(payload, "")
	if err := p.cache.Invalidate(ctx, users.Username(u.Username), users.ID(u.ID)); err != nil {
		log.Warn("user cache invalidation failed", "username", u.Username, "user_id", u.ID, "err", err)
	}
}

func failureEvent(err error) string {
	switch {
	case errors.Is(err, ErrRecipientUnresolvable):
		return "RecipientUnresolvable"
	case errors.Is(err, ErrEmailSendFailed):
		return "EmailSendFailed"
	default:
		return "DispatchFailed"
	}
}

// correlationID prefers the entity id, then the record key, then the event id.
func correlationID(rec Record, entityID string) string {
	switch {
	case entityID != "":
		return entityID
	case len(rec.Key) > 0:
		return string(rec.Key)
	default:
		return rec.EventID
	}
}
