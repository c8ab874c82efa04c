package events

import (
	"encoding/json"
	"fmt"
)

const kindTransition = "transition"

// streamEvent is the raw JSON structure of one message on the post event
// stream.
type streamEvent struct {
	Kind       string      `json:"kind"`
	TimeUS     int64       `json:"time_us"`
	Transition *transition `json:"transition,omitempty"`
}

// transition is a post moving from one status to another.
type transition struct {
	PostID    int64  `json:"post_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func parseEvent(data []byte) (*streamEvent, error) {
	var raw struct {
		Kind       string          `json:"kind"`
		TimeUS     int64           `json:"time_us"`
		Transition json.RawMessage `json:"transition,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &streamEvent{
		Kind:   raw.Kind,
		TimeUS: raw.TimeUS,
	}

	if raw.Kind == kindTransition && len(raw.Transition) > 0 {
		var t transition
		if err := json.Unmarshal(raw.Transition, &t); err != nil {
			return nil, fmt.Errorf("unmarshal transition: %w", err)
		}
		if t.PostID <= 0 {
			return nil, fmt.Errorf("transition has invalid post id %d", t.PostID)
		}
		event.Transition = &t
	}

	return event, nil
}
