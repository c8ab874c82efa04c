package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/altcheck/internal/domain"
	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTablePrefix is the WordPress default $table_prefix.
	DefaultTablePrefix = "wp_"

	cursorOptionPrefix = "altcheck_cursor_"
	commentAgent       = "altcheck"
)

// tables holds the prefixed WordPress table names.
type tables struct {
	prefix      string
	posts       string
	comments    string
	commentmeta string
	users       string
	usermeta    string
	options     string
}

func newTables(prefix string) tables {
	return tables{
		prefix:      prefix,
		posts:       prefix + "posts",
		comments:    prefix + "comments",
		commentmeta: prefix + "commentmeta",
		users:       prefix + "users",
		usermeta:    prefix + "usermeta",
		options:     prefix + "options",
	}
}

// Repository implements domain.ContentStore and domain.CursorRepository
// directly on a WordPress MySQL database.
type Repository struct {
	db *sql.DB
	t  tables
}

// NewRepository connects to MySQL with the given DSN, verifies the
// connection, and returns a Repository over tables named with prefix. The
// caller should call Close when the repository is no longer needed.
func NewRepository(dsn, prefix string) (*Repository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newRepository(db, prefix), nil
}

func newRepository(db *sql.DB, prefix string) *Repository {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	return &Repository{db: db, t: newTables(prefix)}
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetPost returns the post with the given ID.
func (r *Repository) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	var (
		p      domain.Post
		status string
	)
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT ID, post_status, post_author, post_content FROM %s WHERE ID = ?`, r.t.posts), id,
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

// FindComments returns the comments on a post written under authorEmail,
// leaving out trashed and spam ones the way get_comments does. A trashed note
// is therefore replaced by a fresh one on the next run.
func (r *Repository) FindComments(ctx context.Context, postID int64, authorEmail string) ([]domain.FeedbackRecord, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT comment_ID, comment_post_ID, comment_author_email, comment_content
		FROM %s
		WHERE comment_post_ID = ? AND comment_author_email = ?
			AND comment_approved NOT IN ('trash', 'spam')
		ORDER BY comment_ID`, r.t.comments),
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

// InsertComment writes a comment row and refreshes the post's comment count.
func (r *Repository) InsertComment(ctx context.Context, rec *domain.NewFeedbackRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	approved := "0"
	if rec.Approved {
		approved = "1"
	}
	now := time.Now()
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			comment_post_ID, comment_author, comment_author_email, comment_author_url,
			comment_author_IP, comment_date, comment_date_gmt, comment_content,
			comment_karma, comment_approved, comment_agent, comment_type, comment_parent, user_id
		) VALUES (?, ?, ?, ?, '', ?, ?, ?, 0, ?, ?, 'comment', 0, ?)`, r.t.comments),
		rec.PostID, rec.AuthorName, rec.AuthorEmail, rec.AuthorURL,
		now, now.UTC(), rec.Content,
		approved, commentAgent, rec.UserID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("comment id: %w", err)
	}

	if err := r.refreshCommentCount(ctx, tx, rec.PostID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// UpdateComment replaces a comment's content.
func (r *Repository) UpdateComment(ctx context.Context, id int64, content string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET comment_content = ? WHERE comment_ID = ?`, r.t.comments),
		content, id,
	)
	if err != nil {
		return fmt.Errorf("update comment %d: %w", id, err)
	}
	return nil
}

// DeleteComment removes a comment and its meta without moving it to the
// trash, then refreshes the post's comment count. A missing comment is not an
// error.
func (r *Repository) DeleteComment(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var postID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT comment_post_ID FROM %s WHERE comment_ID = ?`, r.t.comments), id,
	).Scan(&postID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query comment %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE comment_id = ?`, r.t.commentmeta), id,
	); err != nil {
		return fmt.Errorf("delete comment meta %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE comment_ID = ?`, r.t.comments), id,
	); err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}

	if err := r.refreshCommentCount(ctx, tx, postID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) refreshCommentCount(ctx context.Context, tx *sql.Tx, postID int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET comment_count = (
			SELECT COUNT(*) FROM %s WHERE comment_post_ID = ? AND comment_approved = '1'
		) WHERE ID = ?`, r.t.posts, r.t.comments),
		postID, postID,
	)
	if err != nil {
		return fmt.Errorf("refresh comment count (post=%d): %w", postID, err)
	}
	return nil
}

// FindUserByLogin returns the user with the given user_login.
func (r *Repository) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return r.queryUser(ctx, "user_login", login)
}

// GetUserByID returns the user with the given ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.queryUser(ctx, "ID", id)
}

func (r *Repository) queryUser(ctx context.Context, column string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT ID, user_login, user_email, display_name FROM %s WHERE %s = ?`, r.t.users, column), arg,
	).Scan(&u.ID, &u.Login, &u.Email, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s=%v: %w", column, arg, err)
	}
	return &u, nil
}

// CreateUser inserts a WordPress account with the given role. The password is
// stored as a bcrypt hash, which WordPress verifies natively.
func (r *Repository) CreateUser(ctx context.Context, user *domain.NewUser) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			user_login, user_pass, user_nicename, user_email, user_url,
			user_registered, user_activation_key, user_status, display_name
		) VALUES (?, ?, ?, ?, '', ?, '', 0, ?)`, r.t.users),
		user.Login, string(hash), nicename(user.Login), user.Email,
		time.Now().UTC(), user.DisplayName,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user %q: %w", user.Login, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}

	meta := [][2]string{
		{r.t.prefix + "capabilities", serializeRole(user.Role)},
		{r.t.prefix + "user_level", "0"},
	}
	for _, m := range meta {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, meta_key, meta_value) VALUES (?, ?, ?)`, r.t.usermeta),
			id, m[0], m[1],
		); err != nil {
			return 0, fmt.Errorf("insert user meta %s: %w", m[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// GetUserMeta returns the first meta value stored under key for the user.
func (r *Repository) GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT meta_value FROM %s
		WHERE user_id = ? AND meta_key = ?
		ORDER BY umeta_id LIMIT 1`, r.t.usermeta),
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query user meta %d/%s: %w", userID, key, err)
	}
	return value, true, nil
}

// SetUserMeta updates the user's meta rows under key, or inserts one.
// usermeta has no unique key on (user_id, meta_key), so this looks first.
func (r *Repository) SetUserMeta(ctx context.Context, userID int64, key, value string) error {
	var metaID int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT umeta_id FROM %s
		WHERE user_id = ? AND meta_key = ?
		ORDER BY umeta_id LIMIT 1`, r.t.usermeta),
		userID, key,
	).Scan(&metaID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, meta_key, meta_value) VALUES (?, ?, ?)`, r.t.usermeta),
			userID, key, value,
		)
		if err != nil {
			return fmt.Errorf("insert user meta %d/%s: %w", userID, key, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("query user meta %d/%s: %w", userID, key, err)
	}

	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET meta_value = ? WHERE user_id = ? AND meta_key = ?`, r.t.usermeta),
		value, userID, key,
	)
	if err != nil {
		return fmt.Errorf("update user meta %d/%s: %w", userID, key, err)
	}
	return nil
}

// GetCursor retrieves the saved event stream cursor for a service from the
// options table.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT option_value FROM %s WHERE option_name = ?`, r.t.options),
		cursorOptionPrefix+service,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q for %s: %w", raw, service, err)
	}
	return cursor, nil
}

// UpdateCursor upserts the event stream cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (option_name, option_value, autoload)
		VALUES (?, ?, 'no')
		ON DUPLICATE KEY UPDATE option_value = VALUES(option_value)`, r.t.options),
		cursorOptionPrefix+service, strconv.FormatInt(cursor, 10),
	)
	return err
}

// serializeRole encodes a role the way WordPress stores capabilities: a PHP
// serialized array of role => true.
func serializeRole(role string) string {
	return fmt.Sprintf(`a:1:{s:%d:"%s";b:1;}`, len(role), role)
}

func nicename(login string) string {
	return strings.ReplaceAll(strings.ToLower(login), " ", "-")
}
