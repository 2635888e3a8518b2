package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"quill/api/internal/util"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	if user.ID == "" {
		user.ID = util.NewObjectID()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
		RETURNING email, created_at
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash).Scan(&user.Email, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email = LOWER($1)`, strings.TrimSpace(email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users `+where, arg).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// SaveSession, LookupSession and RevokeSession back the session store when Redis is not configured.

func (s *PostgresStore) SaveSession(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (jti, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, jti, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, jti string) (string, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions
		WHERE jti = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, jti).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, jti string) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=NOW() WHERE jti=$1`, jti); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

const postColumns = `id, title, content, user_id, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var post Post
	err := row.Scan(&post.ID, &post.Title, &post.Content, &post.OwnerID, &post.CreatedAt, &post.UpdatedAt)
	return post, err
}

func (s *PostgresStore) FindPost(ctx context.Context, postID string) (Post, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	post, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, postID))
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("find post: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	if post.ID == "" {
		post.ID = util.NewObjectID()
	}
	inserted, err := scanPost(s.db.QueryRowContext(ctx, `
		INSERT INTO posts (id, title, content, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+postColumns, post.ID, post.Title, post.Content, post.OwnerID))
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return inserted, nil
}

// UpdatePost rewrites title and content of the post matching both id and owner in one statement.
func (s *PostgresStore) UpdatePost(ctx context.Context, postID, ownerID string, patch PostPatch) (Post, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	post, err := scanPost(s.db.QueryRowContext(ctx, `
		UPDATE posts
		SET title=$3, content=$4, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING `+postColumns, postID, ownerID, patch.Title, patch.Content))
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

// DeletePost removes the post matching both id and owner. It reports whether a row was removed.
func (s *PostgresStore) DeletePost(ctx context.Context, postID, ownerID string) (bool, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1 AND user_id=$2`, postID, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	return s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id DESC LIMIT $1`, clampLimit(limit))
}

func (s *PostgresStore) ListPostsByOwner(ctx context.Context, ownerID string) ([]Post, error) {
	return s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (s *PostgresStore) SearchPosts(ctx context.Context, text string, limit, offset int) ([]Post, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(text)) + "%"
	return s.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE title ILIKE $1 OR content ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, pattern, clampLimit(limit), max(offset, 0))
}

// ScanPosts walks every post oldest first, handing fn keyset pages of up to batch posts.
func (s *PostgresStore) ScanPosts(ctx context.Context, batch int, fn func([]Post) error) error {
	if batch <= 0 {
		batch = defaultScanBatch
	}
	page, err := s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at, id LIMIT $1`, batch)
	for {
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batch {
			return nil
		}
		last := page[len(page)-1]
		page, err = s.queryPosts(ctx, `
			SELECT `+postColumns+` FROM posts
			WHERE (created_at, id) > ($1, $2)
			ORDER BY created_at, id
			LIMIT $3
		`, last.CreatedAt, last.ID, batch)
	}
}

func (s *PostgresStore) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
