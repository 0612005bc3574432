package storage

import (
	"context"

	"github.com/md-rashed-zaman/freelance-notify/libs/db"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Notification is one processing attempt of a change event. Rows are an audit trail;
// nothing reads them back to retry.
type Notification struct {
	EventID   string
	Topic     string
	EntityID  string
	Recipient string
	Subject   string
	Status    string
	Error     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, topic, entity_id, recipient, subject, status, error_reason)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''))
	`, n.EventID, n.Topic, n.EntityID, n.Recipient, n.Subject, n.Status, n.Error)
	return err
}
