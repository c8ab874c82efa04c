package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	cursorServiceName  = "post-events"
	cursorSaveInterval = 5 * time.Second
	statsInterval      = 30 * time.Second
	reconnectDelay     = 5 * time.Second
)

// Handler reacts to publish transitions and persists the stream cursor.
// *domain.FeedbackService satisfies it.
type Handler interface {
	HandlePublished(ctx context.Context, postID int64) (domain.Outcome, error)
	GetCursor(ctx context.Context, service string) (int64, error)
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// Subscriber connects to the post event stream and runs the feedback check
// for every post that becomes published.
type Subscriber struct {
	url            string
	handler        Handler
	logger         *slog.Logger
	reconnectDelay time.Duration
}

// NewSubscriber creates a new event stream subscriber.
func NewSubscriber(streamURL string, handler Handler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:            streamURL,
		handler:        handler,
		logger:         logger,
		reconnectDelay: reconnectDelay,
	}
}

// Start connects to the stream and processes events until the context is
// cancelled. It reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("event stream error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(s.reconnectDelay):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", fmt.Sprintf("%d", cursor))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.handler.GetCursor(ctx, cursorServiceName)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to event stream", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Info("connected to event stream")

	var (
		latestCursor                 int64
		eventsReceived, publishes    int64
		lastCursorSave, lastStatsLog = time.Now(), time.Now()
	)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.saveCursor(context.WithoutCancel(ctx), latestCursor)
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		if event.TimeUS > latestCursor {
			latestCursor = event.TimeUS
		}

		if s.dispatch(ctx, event) {
			publishes++
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("event stream stats",
				"events_received", eventsReceived,
				"publishes_handled", publishes,
			)
			lastStatsLog = time.Now()
		}

		if time.Since(lastCursorSave) >= cursorSaveInterval && s.saveCursor(ctx, latestCursor) {
			lastCursorSave = time.Now()
		}
	}
}

// dispatch runs the feedback check for a publish transition and reports
// whether it did. Handler errors are logged; the stream keeps going.
func (s *Subscriber) dispatch(ctx context.Context, event *streamEvent) bool {
	if event.Kind != kindTransition || event.Transition == nil {
		return false
	}
	t := event.Transition
	if t.NewStatus != string(domain.PostStatusPublished) {
		return false
	}

	outcome, err := s.handler.HandlePublished(ctx, t.PostID)
	if err != nil {
		s.logger.Error("failed to handle publish",
			"post_id", t.PostID,
			"old_status", t.OldStatus,
			"error", err,
		)
		return false
	}
	s.logger.Debug("handled publish", "post_id", t.PostID, "outcome", outcome)
	return true
}

func (s *Subscriber) saveCursor(ctx context.Context, cursor int64) bool {
	if cursor == 0 {
		return false
	}
	if err := s.handler.UpdateCursor(ctx, cursorServiceName, cursor); err != nil {
		s.logger.Error("failed to save cursor", "error", err)
		return false
	}
	return true
}
