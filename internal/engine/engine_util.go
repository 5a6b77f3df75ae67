package engine

import (
	"slices"
	"strings"
	"time"
)

func NewEmptyState() State {
	return State{
		Phase:   PhaseNotStarted,
		Players: []Player{},
	}
}

// Score counts the leading words of typed that match roundText exactly,
// stopping at the first mismatch or at the end of either text.
func Score(roundText, typed string) int {
	want := strings.Fields(roundText)
	got := strings.Fields(typed)

	score := 0
	for i := 0; i < len(want) && i < len(got); i++ {
		if want[i] != got[i] {
			break
		}
		score++
	}
	return score
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Result is the outcome of one finished round. SessionID tells apart the
// lives of a room id that was emptied and later reused.
type Result struct {
	RoomID     string
	SessionID  string
	Round      int
	Text       string
	Players    []Player
	FinishedAt time.Time
}

func NewResult(roomID, sessionID string, s State, at time.Time) Result {
	return Result{
		RoomID:     roomID,
		SessionID:  sessionID,
		Round:      s.Round,
		Text:       s.Text,
		Players:    slices.Clone(s.Players),
		FinishedAt: at,
	}
}
