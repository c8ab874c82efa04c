package domain

import "errors"

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// PostStatus is the publication status of a post as the content store reports it.
type PostStatus string

// PostStatusPublished is the only status that gets scanned.
const PostStatusPublished PostStatus = "publish"

// Post is a post read from the content store. It is never modified here.
type Post struct {
	// ID is the store's identifier for the post.
	ID int64

	// Status is the raw publication status (publish, draft, future, ...).
	Status PostStatus

	// AuthorID is the user id of the post's author.
	AuthorID int64

	// Body is the raw markup of the post.
	Body string
}

// User is an account in the content store.
type User struct {
	ID          int64
	Login       string
	Email       string
	DisplayName string
}

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Login       string
	Password    string
	Email       string
	Role        string
	DisplayName string
}

// FeedbackRecord is a comment previously written by the bot on a post.
type FeedbackRecord struct {
	// ID is the comment id.
	ID int64

	// PostID is the post the comment belongs to.
	PostID int64

	// AuthorEmail is the email the comment was written under.
	AuthorEmail string

	// Content is the rendered HTML body of the comment.
	Content string
}

// NewFeedbackRecord carries the fields for inserting a feedback comment.
type NewFeedbackRecord struct {
	PostID      int64
	UserID      int64
	AuthorName  string
	AuthorEmail string
	AuthorURL   string
	Content     string
	Approved    bool
}
