package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/models"
)

// ConnectionResponse describes one accept or decline decision. Notifications
// are inserted in the same transaction that settles the request.
type ConnectionResponse struct {
	Responder     string
	Requester     string
	Accepted      bool
	Notifications []models.Notification
}

// PostgresConnectionRepository maintains the connection graph and its request
// notifications.
type PostgresConnectionRepository struct {
	pool db.Pool
}

// NewPostgresConnectionRepository constructs a connection repository backed by PostgreSQL.
func NewPostgresConnectionRepository(pool db.Pool) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{pool: pool}
}

// CreateRequest records a connection request as a notification addressed to the
// target. Unknown users yield ErrNotFound.
func (r *PostgresConnectionRepository) CreateRequest(ctx context.Context, request models.Notification) (models.Notification, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Notification{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	request.ActionType = models.ActionConnectionRequest
	stored, err := insertNotification(ctx, conn, request)
	if err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return models.Notification{}, ErrNotFound
		}
		return models.Notification{}, fmt.Errorf("insert connection request: %w", err)
	}
	return stored, nil
}

// Respond settles every pending request from Requester to Responder. When the
// request is accepted the pair is linked and both counters grow by one, unless
// the pair was already connected. ErrNotFound is returned when no request was
// pending; in that case nothing is written.
func (r *PostgresConnectionRepository) Respond(ctx context.Context, response ConnectionResponse) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            DELETE FROM notifications
            WHERE sender_username = $1 AND recipient_username = $2 AND action_type = $3
        `, response.Requester, response.Responder, models.ActionConnectionRequest)
		if err != nil {
			return fmt.Errorf("delete connection request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if response.Accepted {
			a, b := models.OrderedPair(response.Requester, response.Responder)
			tag, err := tx.Exec(ctx, `
                INSERT INTO connections (user_a, user_b)
                VALUES ($1, $2)
                ON CONFLICT (user_a, user_b) DO NOTHING
            `, a, b)
			if err != nil {
				if errors.Is(translate(err), ErrNotFound) {
					return ErrNotFound
				}
				return fmt.Errorf("insert connection: %w", err)
			}
			if tag.RowsAffected() == 1 {
				if _, err := tx.Exec(ctx, `
                    UPDATE users
                    SET connections_count = connections_count + 1, updated_at = now()
                    WHERE username IN ($1, $2)
                `, a, b); err != nil {
					return fmt.Errorf("increment connection counts: %w", err)
				}
			}
		}

		for _, n := range response.Notifications {
			if _, err := insertNotification(ctx, tx, n); err != nil {
				return fmt.Errorf("insert %s notification: %w", n.ActionType, err)
			}
		}
		return nil
	})
}

// Disconnect unlinks the pair, floors both counters at zero, drops pending
// requests in either direction and withdraws location consent between them.
// It reports whether a connection existed; repeated calls are harmless.
func (r *PostgresConnectionRepository) Disconnect(ctx context.Context, left, right string) (bool, error) {
	a, b := models.OrderedPair(left, right)

	var removed bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		removed = false

		tag, err := tx.Exec(ctx, `DELETE FROM connections WHERE user_a = $1 AND user_b = $2`, a, b)
		if err != nil {
			return fmt.Errorf("delete connection: %w", err)
		}
		if tag.RowsAffected() > 0 {
			removed = true
			if _, err := tx.Exec(ctx, `
                UPDATE users
                SET connections_count = GREATEST(0, connections_count - 1), updated_at = now()
                WHERE username IN ($1, $2)
            `, a, b); err != nil {
				return fmt.Errorf("decrement connection counts: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
            DELETE FROM notifications
            WHERE action_type = $3
              AND ((sender_username = $1 AND recipient_username = $2)
                OR (sender_username = $2 AND recipient_username = $1))
        `, a, b, models.ActionConnectionRequest); err != nil {
			return fmt.Errorf("delete pending requests: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            DELETE FROM location_permissions
            WHERE (requester_username = $1 AND target_username = $2)
               OR (requester_username = $2 AND target_username = $1)
        `, a, b); err != nil {
			return fmt.Errorf("delete location permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// AreConnected reports whether the unordered pair is linked.
func (r *PostgresConnectionRepository) AreConnected(ctx context.Context, left, right string) (bool, error) {
	a, b := models.OrderedPair(left, right)
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM connections WHERE user_a = $1 AND user_b = $2)`, a, b)
}

// HasPendingRequest reports whether sender has an outstanding request to recipient.
func (r *PostgresConnectionRepository) HasPendingRequest(ctx context.Context, sender, recipient string) (bool, error) {
	return r.exists(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM notifications
            WHERE sender_username = $1 AND recipient_username = $2 AND action_type = $3
        )
    `, sender, recipient, models.ActionConnectionRequest)
}

func (r *PostgresConnectionRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var found bool
	if err := conn.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("check existence: %w", err)
	}
	return found, nil
}

const peersQuery = `
        SELECT user_b AS peer FROM connections WHERE user_a = $1
        UNION ALL
        SELECT user_a AS peer FROM connections WHERE user_b = $1
        ORDER BY peer
    `

// ListConnections returns the usernames linked to username in ascending order.
func (r *PostgresConnectionRepository) ListConnections(ctx context.Context, username string) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, peersQuery, username)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}

	peers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect connections: %w", err)
	}
	if peers == nil {
		peers = []string{}
	}
	return peers, nil
}
