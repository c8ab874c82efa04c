package domain

import "context"

// PostRepository reads posts from the content store.
type PostRepository interface {
	// GetPost returns the post with the given id, or ErrNotFound.
	GetPost(ctx context.Context, id int64) (*Post, error)
}

// CommentRepository manages feedback comments on posts.
type CommentRepository interface {
	// FindComments returns every comment on the post written under the given
	// author email, oldest first.
	FindComments(ctx context.Context, postID int64, authorEmail string) ([]FeedbackRecord, error)

	// InsertComment stores a new comment and returns its id.
	InsertComment(ctx context.Context, record *NewFeedbackRecord) (int64, error)

	// UpdateComment replaces the content of an existing comment.
	UpdateComment(ctx context.Context, id int64, content string) error

	// DeleteComment removes a comment permanently, bypassing any trash.
	DeleteComment(ctx context.Context, id int64) error
}

// UserRepository manages accounts and per-user metadata.
type UserRepository interface {
	// FindUserByLogin returns the user with the given login, or ErrNotFound.
	FindUserByLogin(ctx context.Context, login string) (*User, error)

	// CreateUser creates an account and returns its id.
	CreateUser(ctx context.Context, user *NewUser) (int64, error)

	// GetUserByID returns the user with the given id, or ErrNotFound.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserMeta returns a metadata value and whether it was present.
	GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error)

	// SetUserMeta creates or replaces a metadata value.
	SetUserMeta(ctx context.Context, userID int64, key, value string) error
}

// ContentStore is everything the feedback service needs from the store.
type ContentStore interface {
	PostRepository
	CommentRepository
	UserRepository
}

// CursorRepository defines persistence operations for event stream cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed cursor for the given service
	// name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
