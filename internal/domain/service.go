package domain

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/altcheck/internal/metrics"
	"github.com/patrickmn/go-cache"
)

// Outcome summarizes what handling a publish trigger did.
type Outcome string

const (
	// OutcomeSkipped means the post was missing or not published.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeClean means no defects were found and there was no feedback to remove.
	OutcomeClean Outcome = "clean"

	// OutcomeCleared means no defects were found and old feedback was removed.
	OutcomeCleared Outcome = "cleared"

	// OutcomeUpdated means existing feedback was rewritten.
	OutcomeUpdated Outcome = "updated"

	// OutcomeInserted means a new feedback comment was written.
	OutcomeInserted Outcome = "inserted"
)

// unknownAuthorName is used in the intro when the post author has no account.
const unknownAuthorName = "there"

// FeedbackService is the core domain service. It scans published posts and
// keeps the bot's feedback comment on each post in step with the result.
type FeedbackService struct {
	store       ContentStore
	cursors     CursorRepository
	reconciler  *Reconciler
	bot         BotIdentity
	users       *cache.Cache
	newPassword func() (string, error)
	logger      *slog.Logger
}

// NewFeedbackService creates a FeedbackService writing feedback as bot.
func NewFeedbackService(store ContentStore, cursors CursorRepository, reconciler *Reconciler, bot BotIdentity, logger *slog.Logger) (*FeedbackService, error) {
	if err := bot.Validate(); err != nil {
		return nil, err
	}
	return &FeedbackService{
		store:       store,
		cursors:     cursors,
		reconciler:  reconciler,
		bot:         bot,
		users:       cache.New(10*time.Minute, 15*time.Minute),
		newPassword: generatePassword,
		logger:      logger,
	}, nil
}

// HandlePublished scans the post and reconciles its feedback. It re-reads the
// post and does nothing unless the post exists and is published, since the
// trigger may be stale by the time it arrives.
func (s *FeedbackService) HandlePublished(ctx context.Context, postID int64) (Outcome, error) {
	start := time.Now()
	outcome, err := s.handlePublished(ctx, postID)
	metrics.HandleDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HandleErrorsTotal.Inc()
		return "", err
	}
	metrics.OutcomesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (s *FeedbackService) handlePublished(ctx context.Context, postID int64) (Outcome, error) {
	post, err := s.store.GetPost(ctx, postID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("post not found, skipping", "post_id", postID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("get post %d: %w", postID, err)
	}
	if post.Status != PostStatusPublished {
		s.logger.Debug("post not published, skipping", "post_id", postID, "status", post.Status)
		return OutcomeSkipped, nil
	}

	botID, err := s.ensureBotUser(ctx)
	if err != nil {
		return "", fmt.Errorf("bootstrap bot account: %w", err)
	}

	report := Scan(post.Body)
	metrics.PostsScannedTotal.Inc()
	for _, c := range Categories {
		if n := len(report.Elements(c)); n > 0 {
			metrics.DefectsTotal.WithLabelValues(c.String()).Add(float64(n))
		}
	}

	existing, err := s.store.FindComments(ctx, post.ID, s.bot.Email)
	if err != nil {
		return "", fmt.Errorf("find feedback for post %d: %w", post.ID, err)
	}

	var (
		to          Recipient
		authorKnown bool
	)
	if !report.Empty() {
		to, authorKnown, err = s.recipient(ctx, post.AuthorID)
		if err != nil {
			return "", err
		}
	}

	action := s.reconciler.Reconcile(post.ID, report, to, existing)

	if action.IntroJustSent && authorKnown {
		if err := s.store.SetUserMeta(ctx, post.AuthorID, s.bot.IntroMetaKey, "1"); err != nil {
			return "", fmt.Errorf("mark intro sent for user %d: %w", post.AuthorID, err)
		}
	}

	outcome, err := s.apply(ctx, botID, action)
	if err != nil {
		return "", err
	}

	s.logger.Info("feedback reconciled",
		"post_id", post.ID,
		"outcome", outcome,
		"missing_alt", len(report.MissingAlt),
		"empty_alt", len(report.EmptyAlt),
		"aria_issue", len(report.AriaIssue),
		"existing_records", len(existing),
	)
	return outcome, nil
}

func (s *FeedbackService) apply(ctx context.Context, botID int64, action Action) (Outcome, error) {
	switch action.Kind {
	case ActionDeleteAll:
		for _, r := range action.Records {
			if err := s.store.DeleteComment(ctx, r.ID); err != nil {
				return "", fmt.Errorf("delete feedback %d: %w", r.ID, err)
			}
		}
		if len(action.Records) == 0 {
			return OutcomeClean, nil
		}
		return OutcomeCleared, nil

	case ActionUpdateEach:
		for _, r := range action.Records {
			if err := s.store.UpdateComment(ctx, r.ID, action.Content); err != nil {
				return "", fmt.Errorf("update feedback %d: %w", r.ID, err)
			}
		}
		return OutcomeUpdated, nil

	case ActionInsert:
		record := &NewFeedbackRecord{
			PostID:      action.PostID,
			UserID:      botID,
			AuthorName:  s.bot.CommentAuthor,
			AuthorEmail: s.bot.Email,
			AuthorURL:   s.bot.URL,
			Content:     action.Content,
			Approved:    true,
		}
		if _, err := s.store.InsertComment(ctx, record); err != nil {
			return "", fmt.Errorf("insert feedback on post %d: %w", action.PostID, err)
		}
		return OutcomeInserted, nil

	default:
		return "", fmt.Errorf("unknown action %v", action.Kind)
	}
}

// recipient loads the post author's display name and intro flag. The bool is
// false when the author has no account.
func (s *FeedbackService) recipient(ctx context.Context, authorID int64) (Recipient, bool, error) {
	author, err := s.store.GetUserByID(ctx, authorID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("post author not found", "user_id", authorID)
		return Recipient{DisplayName: unknownAuthorName}, false, nil
	}
	if err != nil {
		return Recipient{}, false, fmt.Errorf("get author %d: %w", authorID, err)
	}

	value, ok, err := s.store.GetUserMeta(ctx, authorID, s.bot.IntroMetaKey)
	if err != nil {
		return Recipient{}, false, fmt.Errorf("read intro flag for user %d: %w", authorID, err)
	}

	name := author.DisplayName
	if name == "" {
		name = author.Login
	}
	return Recipient{
		DisplayName: name,
		IntroSent:   ok && value != "" && value != "0",
	}, true, nil
}

// ensureBotUser returns the bot's user id, creating the account on first use.
func (s *FeedbackService) ensureBotUser(ctx context.Context) (int64, error) {
	cacheKey := "user:" + s.bot.Login
	if x, found := s.users.Get(cacheKey); found {
		return x.(int64), nil
	}

	var id int64
	user, err := s.store.FindUserByLogin(ctx, s.bot.Login)
	switch {
	case err == nil:
		id = user.ID
	case errors.Is(err, ErrNotFound):
		password, err := s.newPassword()
		if err != nil {
			return 0, fmt.Errorf("generate password: %w", err)
		}
		id, err = s.store.CreateUser(ctx, &NewUser{
			Login:       s.bot.Login,
			Password:    password,
			Email:       s.bot.Email,
			Role:        s.bot.Role,
			DisplayName: s.bot.DisplayName,
		})
		if err != nil {
			return 0, fmt.Errorf("create user %q: %w", s.bot.Login, err)
		}
		s.logger.Info("created bot account", "login", s.bot.Login, "user_id", id)
	default:
		return 0, fmt.Errorf("find user %q: %w", s.bot.Login, err)
	}

	s.users.Set(cacheKey, id, cache.DefaultExpiration)
	return id, nil
}

// GetCursor retrieves the last-processed event stream cursor for the given service.
func (s *FeedbackService) GetCursor(ctx context.Context, service string) (int64, error) {
	return s.cursors.GetCursor(ctx, service)
}

// UpdateCursor persists the event stream cursor for the given service.
func (s *FeedbackService) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return s.cursors.UpdateCursor(ctx, service, cursor)
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
