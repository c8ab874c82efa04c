package domain

import "fmt"

// BotIdentity is the account and comment author the feedback is written as.
// Existing feedback is found by Email, so changing it orphans old comments.
type BotIdentity struct {
	// Login is the account login, created on first use.
	Login string

	// DisplayName is the account's public name.
	DisplayName string

	// CommentAuthor is the author name stored on each comment.
	CommentAuthor string

	// Email identifies the bot's comments on a post.
	Email string

	// URL is the author link stored on each comment.
	URL string

	// Role is the role given to the account when it is created.
	Role string

	// IntroMetaKey is the user meta key marking that an author has been
	// introduced to the bot.
	IntroMetaKey string
}

// DefaultBotIdentity returns the Equalify identity.
func DefaultBotIdentity() BotIdentity {
	return BotIdentity{
		Login:         "equalify",
		DisplayName:   "Equalify",
		CommentAuthor: "Equalify",
		Email:         "accessibility@equalify.app",
		URL:           "https://equalify.app",
		Role:          "subscriber",
		IntroMetaKey:  "equalify_intro_sent",
	}
}

// Validate reports whether every field needed to write feedback is set.
func (b BotIdentity) Validate() error {
	switch {
	case b.Login == "":
		return fmt.Errorf("bot identity: login is required")
	case b.Email == "":
		return fmt.Errorf("bot identity: email is required")
	case b.CommentAuthor == "":
		return fmt.Errorf("bot identity: comment author is required")
	case b.IntroMetaKey == "":
		return fmt.Errorf("bot identity: intro meta key is required")
	}
	return nil
}
