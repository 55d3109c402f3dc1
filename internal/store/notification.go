package store

import (
	"context"

	"agendamento-api/internal/model"
)

// CreateNotification appends one event to the recipient's inbox. Rows
// are insert-once; read state lives with the inbox consumer, not here.
func (s *Store) CreateNotification(ctx context.Context, n *model.NotificationEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, recipient_id, kind, title, message, link, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.RecipientID, n.Kind, n.Title, n.Message, n.Link, n.CreatedAt,
	)
	return err
}
