package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/models"
)

// PostgresLocationRepository stores sharing settings, the latest sample per
// user and the pairwise location permissions.
type PostgresLocationRepository struct {
	pool db.Pool
}

// NewPostgresLocationRepository constructs a location repository backed by PostgreSQL.
func NewPostgresLocationRepository(pool db.Pool) *PostgresLocationRepository {
	return &PostgresLocationRepository{pool: pool}
}

// UpsertSettings writes the user's sharing configuration. Disabling sharing
// deletes the stored sample in the same transaction.
func (r *PostgresLocationRepository) UpsertSettings(ctx context.Context, setting models.LocationSetting) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO location_settings (username, is_enabled, sharing_mode, sharing_until, updated_at)
            VALUES ($1, $2, $3, $4, now())
            ON CONFLICT (username)
            DO UPDATE SET
                is_enabled = EXCLUDED.is_enabled,
                sharing_mode = EXCLUDED.sharing_mode,
                sharing_until = EXCLUDED.sharing_until,
                updated_at = now()
        `, setting.Username, setting.IsEnabled, string(setting.SharingMode), setting.SharingUntil)
		if err != nil {
			if errors.Is(translate(err), ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("upsert location settings: %w", err)
		}

		if !setting.IsEnabled {
			if _, err := tx.Exec(ctx, `DELETE FROM location_samples WHERE username = $1`, setting.Username); err != nil {
				return fmt.Errorf("delete location sample: %w", err)
			}
		}
		return nil
	})
}

// FindSettings returns the stored configuration or ErrNotFound when the user
// never configured sharing.
func (r *PostgresLocationRepository) FindSettings(ctx context.Context, username string) (models.LocationSetting, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LocationSetting{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var (
		setting models.LocationSetting
		mode    string
	)
	err = conn.QueryRow(ctx, `
        SELECT username, is_enabled, sharing_mode, sharing_until, updated_at
        FROM location_settings
        WHERE username = $1
    `, username).Scan(&setting.Username, &setting.IsEnabled, &mode, &setting.SharingUntil, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LocationSetting{}, ErrNotFound
		}
		return models.LocationSetting{}, fmt.Errorf("select location settings: %w", err)
	}
	setting.SharingMode = models.SharingMode(mode)
	return setting, nil
}

// ReplaceSample swaps the user's stored sample for a new one. The same
// transaction creates an enabled "always" setting when none exists, re-enables
// a disabled one and ensures the user may always see their own location.
func (r *PostgresLocationRepository) ReplaceSample(ctx context.Context, sample models.LocationSample) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM location_samples WHERE username = $1`, sample.Username); err != nil {
			return fmt.Errorf("delete location sample: %w", err)
		}

		_, err := tx.Exec(ctx, `
            INSERT INTO location_samples (username, latitude, longitude, accuracy, recorded_at)
            VALUES ($1, $2, $3, $4, $5)
        `, sample.Username, sample.Latitude, sample.Longitude, sample.Accuracy, sample.RecordedAt.UTC())
		if err != nil {
			switch translated := translate(err); {
			case errors.Is(translated, ErrNotFound), errors.Is(translated, ErrInvalid):
				return translated
			}
			return fmt.Errorf("insert location sample: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO location_settings (username, is_enabled, sharing_mode, updated_at)
            VALUES ($1, true, 'always', now())
            ON CONFLICT (username)
            DO UPDATE SET
                is_enabled = true,
                sharing_mode = CASE WHEN location_settings.sharing_mode = 'off' THEN 'always' ELSE location_settings.sharing_mode END,
                updated_at = now()
            WHERE location_settings.is_enabled = false
        `, sample.Username); err != nil {
			return fmt.Errorf("ensure location settings: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO location_permissions (requester_username, target_username, is_approved)
            VALUES ($1, $1, true)
            ON CONFLICT (requester_username, target_username) DO NOTHING
        `, sample.Username); err != nil {
			return fmt.Errorf("ensure self permission: %w", err)
		}
		return nil
	})
}

// FindSample returns the user's stored sample.
func (r *PostgresLocationRepository) FindSample(ctx context.Context, username string) (models.LocationSample, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LocationSample{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var sample models.LocationSample
	err = conn.QueryRow(ctx, `
        SELECT username, latitude, longitude, accuracy, recorded_at
        FROM location_samples
        WHERE username = $1
    `, username).Scan(&sample.Username, &sample.Latitude, &sample.Longitude, &sample.Accuracy, &sample.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LocationSample{}, ErrNotFound
		}
		return models.LocationSample{}, fmt.Errorf("select location sample: %w", err)
	}
	return sample, nil
}

// VisibleLocations returns every sample the viewer may read at the given
// instant: their own, plus those of connected users who are actively sharing
// and have approved the viewer. Rows are ordered by username.
func (r *PostgresLocationRepository) VisibleLocations(ctx context.Context, viewer string, now time.Time) ([]models.VisibleLocation, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT s.username, s.latitude, s.longitude, s.accuracy, s.recorded_at,
               COALESCE(ls.sharing_mode, 'off')
        FROM location_samples s
        LEFT JOIN location_settings ls ON ls.username = s.username
        WHERE s.username = $1
           OR (
                COALESCE(ls.is_enabled, false)
            AND (ls.sharing_mode = 'always'
                 OR (ls.sharing_mode = 'timed' AND ls.sharing_until > $2))
            AND EXISTS (
                SELECT 1 FROM location_permissions p
                WHERE p.requester_username = $1
                  AND p.target_username = s.username
                  AND p.is_approved
            )
            AND EXISTS (
                SELECT 1 FROM connections c
                WHERE (c.user_a = $1 AND c.user_b = s.username)
                   OR (c.user_a = s.username AND c.user_b = $1)
            )
           )
        ORDER BY s.username
    `, viewer, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query visible locations: %w", err)
	}
	defer rows.Close()

	locations := make([]models.VisibleLocation, 0)
	for rows.Next() {
		var (
			loc  models.VisibleLocation
			mode string
		)
		if err := rows.Scan(&loc.Username, &loc.Latitude, &loc.Longitude, &loc.Accuracy, &loc.RecordedAt, &mode); err != nil {
			return nil, fmt.Errorf("scan visible location: %w", err)
		}
		loc.SharingMode = models.SharingMode(mode)
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visible locations: %w", err)
	}
	return locations, nil
}

// RequestPermission records a pending request from Requester to view Target's
// location and notifies the target. An existing approval is preserved.
func (r *PostgresLocationRepository) RequestPermission(ctx context.Context, permission models.LocationPermission, note models.Notification) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO location_permissions (requester_username, target_username, is_approved)
            VALUES ($1, $2, false)
            ON CONFLICT (requester_username, target_username)
            DO UPDATE SET updated_at = now()
        `, permission.Requester, permission.Target)
		if err != nil {
			if errors.Is(translate(err), ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("upsert location permission: %w", err)
		}

		if _, err := insertNotification(ctx, tx, note); err != nil {
			return fmt.Errorf("insert location request notification: %w", err)
		}
		return nil
	})
}

// RespondPermission approves or declines an existing permission row and
// notifies the requester. A decline removes the row. ErrNotFound is returned
// when the requester never asked.
func (r *PostgresLocationRepository) RespondPermission(ctx context.Context, permission models.LocationPermission, note models.Notification) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
            UPDATE location_permissions
            SET is_approved = true, updated_at = now()
            WHERE requester_username = $1 AND target_username = $2
        `
		if !permission.IsApproved {
			query = `
                DELETE FROM location_permissions
                WHERE requester_username = $1 AND target_username = $2
            `
		}

		tag, err := tx.Exec(ctx, query, permission.Requester, permission.Target)
		if err != nil {
			return fmt.Errorf("settle location permission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := insertNotification(ctx, tx, note); err != nil {
			return fmt.Errorf("insert location response notification: %w", err)
		}
		return nil
	})
}

// DeletePermission removes any permission row for the pair. It is idempotent.
func (r *PostgresLocationRepository) DeletePermission(ctx context.Context, requester, target string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        DELETE FROM location_permissions
        WHERE requester_username = $1 AND target_username = $2
    `, requester, target); err != nil {
		return fmt.Errorf("delete location permission: %w", err)
	}
	return nil
}

// FindPermission loads a single permission row.
func (r *PostgresLocationRepository) FindPermission(ctx context.Context, requester, target string) (models.LocationPermission, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LocationPermission{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var permission models.LocationPermission
	err = conn.QueryRow(ctx, `
        SELECT requester_username, target_username, is_approved
        FROM location_permissions
        WHERE requester_username = $1 AND target_username = $2
    `, requester, target).Scan(&permission.Requester, &permission.Target, &permission.IsApproved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LocationPermission{}, ErrNotFound
		}
		return models.LocationPermission{}, fmt.Errorf("select location permission: %w", err)
	}
	return permission, nil
}
