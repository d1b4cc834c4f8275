package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hestia/backend/internal/models"
)

// querier is satisfied by pooled connections and transactions alike.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertNotification(ctx context.Context, q querier, n models.Notification) (models.Notification, error) {
	err := q.QueryRow(ctx, `
        INSERT INTO notifications (recipient_username, sender_username, message, action_type)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `, n.Recipient, n.Sender, n.Message, n.ActionType).Scan(&n.ID, &n.CreatedAt)
	return n, err
}
