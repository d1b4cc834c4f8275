package repositories

import (
	"context"
	"fmt"

	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/models"
)

// PostgresNotificationRepository reads and prunes a recipient's inbox.
type PostgresNotificationRepository struct {
	pool db.Pool
}

// NewPostgresNotificationRepository constructs a notification repository backed by PostgreSQL.
func NewPostgresNotificationRepository(pool db.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

// ListForRecipient returns the recipient's notifications newest first.
func (r *PostgresNotificationRepository) ListForRecipient(ctx context.Context, recipient string) ([]models.Notification, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, recipient_username, sender_username, message, action_type, created_at
        FROM notifications
        WHERE recipient_username = $1
        ORDER BY created_at DESC, id DESC
    `, recipient)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Sender, &n.Message, &n.ActionType, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return notifications, nil
}

// Delete removes a notification owned by recipient. Notifications addressed to
// someone else are reported as ErrNotFound.
func (r *PostgresNotificationRepository) Delete(ctx context.Context, id int64, recipient string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM notifications
        WHERE id = $1 AND recipient_username = $2
    `, id, recipient)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
