package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/altcheck/internal/domain"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	status     TEXT    NOT NULL,
	author_id  INTEGER NOT NULL,
	body       TEXT    NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id      INTEGER NOT NULL,
	user_id      INTEGER NOT NULL,
	author_name  TEXT    NOT NULL,
	author_email TEXT    NOT NULL,
	author_url   TEXT    NOT NULL,
	content      TEXT    NOT NULL,
	approved     INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS comments_post_email ON comments (post_id, author_email);

CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	login         TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	email         TEXT    NOT NULL,
	display_name  TEXT    NOT NULL,
	role          TEXT    NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_meta (
	user_id    INTEGER NOT NULL,
	meta_key   TEXT    NOT NULL,
	meta_value TEXT    NOT NULL,
	PRIMARY KEY (user_id, meta_key)
);

CREATE TABLE IF NOT EXISTS cursors (
	service      TEXT    PRIMARY KEY,
	cursor_value INTEGER NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);`

// Repository implements domain.ContentStore and domain.CursorRepository on a
// standalone SQLite database.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the SQLite database at path (":memory:" for a
// throwaway one), creates the schema if needed, and returns a new Repository.
// The caller should call Close when the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite allows a single writer and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Repository{db: db}
	if err := r.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Migrate creates any missing tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// SavePost inserts a post, or replaces it when post.ID is already stored. A
// zero ID gets a new id assigned, which is returned.
func (r *Repository) SavePost(ctx context.Context, post *domain.Post) (int64, error) {
	now := time.Now().UTC()
	if post.ID == 0 {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO posts (status, author_id, body, updated_at) VALUES (?, ?, ?, ?)`,
			string(post.Status), post.AuthorID, post.Body, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert post: %w", err)
		}
		return res.LastInsertId()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (id, status, author_id, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			author_id = excluded.author_id,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		post.ID, string(post.Status), post.AuthorID, post.Body, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert post %d: %w", post.ID, err)
	}
	return post.ID, nil
}

// GetPost returns the post with the given id.
func (r *Repository) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	var (
		p      domain.Post
		status string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, author_id, body FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &status, &p.AuthorID, &p.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post %d: %w", id, err)
	}
	p.Status = domain.PostStatus(status)
	return &p, nil
}

// FindComments returns the comments on a post written under authorEmail.
func (r *Repository) FindComments(ctx context.Context, postID int64, authorEmail string) ([]domain.FeedbackRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, post_id, author_email, content
		FROM comments
		WHERE post_id = ? AND author_email = ?
		ORDER BY id`,
		postID, authorEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("query comments (post=%d): %w", postID, err)
	}
	defer rows.Close()

	var records []domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		if err := rows.Scan(&rec.ID, &rec.PostID, &rec.AuthorEmail, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return records, nil
}

// InsertComment stores a new comment.
func (r *Repository) InsertComment(ctx context.Context, rec *domain.NewFeedbackRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO comments (post_id, user_id, author_name, author_email, author_url, content, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PostID, rec.UserID, rec.AuthorName, rec.AuthorEmail, rec.AuthorURL, rec.Content, rec.Approved, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return res.LastInsertId()
}

// UpdateComment replaces a comment's content.
func (r *Repository) UpdateComment(ctx context.Context, id int64, content string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE comments SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update comment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteComment removes a comment. Deleting a missing comment is not an error.
func (r *Repository) DeleteComment(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}
	return nil
}

// FindUserByLogin returns the user with the given login.
func (r *Repository) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return r.queryUser(ctx, `SELECT id, login, email, display_name FROM users WHERE login = ?`, login)
}

// GetUserByID returns the user with the given id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.queryUser(ctx, `SELECT id, login, email, display_name FROM users WHERE id = ?`, id)
}

func (r *Repository) queryUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Login, &u.Email, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %v: %w", arg, err)
	}
	return &u, nil
}

// CreateUser stores a new account with a bcrypt hash of its password.
func (r *Repository) CreateUser(ctx context.Context, user *domain.NewUser) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (login, password_hash, email, display_name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.Login, string(hash), user.Email, user.DisplayName, user.Role, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert user %q: %w", user.Login, err)
	}
	return res.LastInsertId()
}

// GetUserMeta returns a user's metadata value and whether it exists.
func (r *Repository) GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT meta_value FROM user_meta WHERE user_id = ? AND meta_key = ?`, userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query user meta %d/%s: %w", userID, key, err)
	}
	return value, true, nil
}

// SetUserMeta upserts a user's metadata value.
func (r *Repository) SetUserMeta(ctx context.Context, userID int64, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_meta (user_id, meta_key, meta_value)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set user meta %d/%s: %w", userID, key, err)
	}
	return nil
}

// GetCursor retrieves the saved event stream cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the event stream cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = excluded.cursor_value, updated_at = excluded.updated_at`,
		service, cursor, time.Now().UTC(),
	)
	return err
}
