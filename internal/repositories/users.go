package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/pictures"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for accounts.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new account. Duplicate usernames or emails yield ErrConflict.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (username, email, password_hash, name, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
    `, user.Username, user.Email, user.Password, user.Name, user.CreatedAt.UTC())
	if err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByUsername fetches an account by its username.
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var user models.User
	err = conn.QueryRow(ctx, `
        SELECT username, email, password_hash, name, intro, connections_count, created_at, updated_at
        FROM users
        WHERE username = $1
    `, username).Scan(&user.Username, &user.Email, &user.Password, &user.Name, &user.Intro,
		&user.ConnectionsCount, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}

	return user, nil
}

// ProfileUpdate replaces the editable profile fields of Username.
type ProfileUpdate struct {
	Username string
	Name     string
	Intro    string
}

// UpdateProfile stores the new name and intro and, in the same transaction,
// sends a profile_update notification to every connection and one to the user.
// It returns the updated account and the connections that were notified.
func (r *PostgresUserRepository) UpdateProfile(ctx context.Context, update ProfileUpdate) (models.User, []string, error) {
	var (
		user     models.User
		notified []string
	)
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            UPDATE users
            SET name = $2, intro = $3, updated_at = now()
            WHERE username = $1
            RETURNING username, email, name, intro, connections_count, created_at, updated_at
        `, update.Username, update.Name, update.Intro).Scan(&user.Username, &user.Email, &user.Name, &user.Intro,
			&user.ConnectionsCount, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("update profile: %w", err)
		}

		rows, err := tx.Query(ctx, peersQuery, update.Username)
		if err != nil {
			return fmt.Errorf("query connections: %w", err)
		}
		peers, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect connections: %w", err)
		}

		for _, peer := range peers {
			if _, err := insertNotification(ctx, tx, models.Notification{
				Recipient:  peer,
				Sender:     update.Username,
				Message:    fmt.Sprintf("%s has updated their profile", update.Username),
				ActionType: models.ActionProfileUpdate,
			}); err != nil {
				return fmt.Errorf("notify %s: %w", peer, err)
			}
		}
		if _, err := insertNotification(ctx, tx, models.Notification{
			Recipient:  update.Username,
			Sender:     update.Username,
			Message:    "You updated your profile",
			ActionType: models.ActionProfileUpdate,
		}); err != nil {
			return fmt.Errorf("notify self: %w", err)
		}

		notified = peers
		return nil
	})
	if err != nil {
		return models.User{}, nil, err
	}
	if notified == nil {
		notified = []string{}
	}
	return user, notified, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns up to limit accounts whose username contains query, ignoring
// case. Wildcards in query match literally.
func (r *PostgresUserRepository) Search(ctx context.Context, query string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 20
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT username, name, intro, connections_count
        FROM users
        WHERE username ILIKE $1
        ORDER BY username
        LIMIT $2
    `, "%"+likeEscaper.Replace(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Username, &user.Name, &user.Intro, &user.ConnectionsCount); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// PostgresPictureStore keeps profile pictures inline on the users table.
type PostgresPictureStore struct {
	pool db.Pool
}

// NewPostgresPictureStore constructs a picture store backed by users.profile_pic.
func NewPostgresPictureStore(pool db.Pool) *PostgresPictureStore {
	return &PostgresPictureStore{pool: pool}
}

// Save replaces the user's picture. Unknown users yield ErrNotFound.
func (s *PostgresPictureStore) Save(ctx context.Context, username string, picture pictures.Picture) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET profile_pic = $2, profile_pic_type = $3, updated_at = now()
        WHERE username = $1
    `, username, picture.Data, picture.ContentType)
	if err != nil {
		return fmt.Errorf("update profile picture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Load returns the stored picture or pictures.ErrNotFound when none was uploaded.
func (s *PostgresPictureStore) Load(ctx context.Context, username string) (pictures.Picture, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return pictures.Picture{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var (
		data        []byte
		contentType *string
	)
	err = conn.QueryRow(ctx, `
        SELECT profile_pic, profile_pic_type
        FROM users
        WHERE username = $1
    `, username).Scan(&data, &contentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pictures.Picture{}, pictures.ErrNotFound
		}
		return pictures.Picture{}, fmt.Errorf("select profile picture: %w", err)
	}
	if len(data) == 0 {
		return pictures.Picture{}, pictures.ErrNotFound
	}

	picture := pictures.Picture{Data: data}
	if contentType != nil {
		picture.ContentType = *contentType
	}
	return picture, nil
}

var _ pictures.Store = (*PostgresPictureStore)(nil)
