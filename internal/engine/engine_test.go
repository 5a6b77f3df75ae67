package engine

import (
	"errors"
	"math"
	"testing"
)

func stateWith(phase Phase, ids ...string) State {
	s := NewEmptyState()
	s.Phase = phase
	for _, id := range ids {
		s.Players = append(s.Players, Player{ID: id, Name: "name-" + id})
	}
	if len(ids) > 0 {
		s.HostID = ids[0]
	}
	return s
}

func TestScore(t *testing.T) {
	cases := []struct {
		name      string
		roundText string
		typed     string
		want      int
	}{
		{name: "stops at first mismatch", roundText: "the quick brown fox", typed: "the quick red fox", want: 2},
		{name: "extra trailing word", roundText: "a b c", typed: "a b c d", want: 3},
		{name: "partial last word", roundText: "hello world", typed: "hello wor", want: 1},
		{name: "later correct word does not count", roundText: "one two three", typed: "uno two three", want: 0},
		{name: "empty typed", roundText: "one two", typed: "", want: 0},
		{name: "whitespace runs", roundText: "one  two\nthree", typed: " one two\tthree", want: 3},
		{name: "case sensitive", roundText: "Go is fun", typed: "go is fun", want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.roundText, tc.typed); got != tc.want {
				t.Fatalf("Score(%q, %q) = %d, want %d", tc.roundText, tc.typed, got, tc.want)
			}
		})
	}
}

func TestJoin_FirstPlayerBecomesHost(t *testing.T) {
	s := NewEmptyState()

	events, s, err := Apply(s, Command{Type: CmdJoin, ConnID: "a", Name: "alice"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if !ContainsEvent(events, EvtPlayerJoined) {
		t.Fatalf("expected EvtPlayerJoined")
	}
	if s.HostID != "a" {
		t.Fatalf("host: got %q, want %q", s.HostID, "a")
	}

	_, s, _ = Apply(s, Command{Type: CmdJoin, ConnID: "b", Name: "bob"})
	if s.HostID != "a" {
		t.Fatalf("second join must not change host, got %q", s.HostID)
	}
	if len(s.Players) != 2 || s.Players[1].ID != "b" {
		t.Fatalf("roster order: got %+v", s.Players)
	}
}

func TestJoin_DuplicateIsNoop(t *testing.T) {
	s := stateWith(PhaseNotStarted, "a", "b")

	events, next, err := Apply(s, Command{Type: CmdJoin, ConnID: "b", Name: "again"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if len(next.Players) != 2 || next.Players[1].Name != "name-b" {
		t.Fatalf("roster changed: %+v", next.Players)
	}
}

func TestJoin_RejectedWhileInProgress(t *testing.T) {
	s := stateWith(PhaseInProgress, "a")

	_, next, err := Apply(s, Command{Type: CmdJoin, ConnID: "b", Name: "bob"})
	if !errors.Is(err, ErrRoundInProgress) {
		t.Fatalf("want ErrRoundInProgress, got %v", err)
	}
	if len(next.Players) != 1 {
		t.Fatalf("roster changed: %+v", next.Players)
	}
}

func TestJoin_AllowedAfterFinish(t *testing.T) {
	s := stateWith(PhaseFinished, "a")

	_, next, err := Apply(s, Command{Type: CmdJoin, ConnID: "b", Name: "bob"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if len(next.Players) != 2 {
		t.Fatalf("expected 2 players, got %+v", next.Players)
	}
}

func TestStartRound(t *testing.T) {
	cases := []struct {
		name    string
		setup   State
		cmd     Command
		wantErr error
	}{
		{
			name:    "non host is rejected",
			setup:   stateWith(PhaseNotStarted, "a", "b"),
			cmd:     Command{Type: CmdStartRound, ConnID: "b"},
			wantErr: ErrNotHost,
		},
		{
			name:    "already started",
			setup:   stateWith(PhaseInProgress, "a", "b"),
			cmd:     Command{Type: CmdStartRound, ConnID: "a"},
			wantErr: ErrAlreadyStarted,
		},
		{
			name:  "host starts from not-started",
			setup: stateWith(PhaseNotStarted, "a", "b"),
			cmd:   Command{Type: CmdStartRound, ConnID: "a"},
		},
		{
			name:  "host restarts after finish",
			setup: stateWith(PhaseFinished, "a", "b"),
			cmd:   Command{Type: CmdStartRound, ConnID: "a"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, next, err := Apply(tc.setup, tc.cmd)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				if next.Phase != tc.setup.Phase || next.Round != tc.setup.Round {
					t.Fatalf("rejected start changed state: %+v", next)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if next.Phase != PhaseInProgress {
				t.Fatalf("phase: got %v, want %v", next.Phase, PhaseInProgress)
			}
			if next.Round != tc.setup.Round+1 {
				t.Fatalf("round: got %d, want %d", next.Round, tc.setup.Round+1)
			}
		})
	}
}

func TestStartRound_ResetsScoresWithoutTouchingInput(t *testing.T) {
	s := stateWith(PhaseFinished, "a", "b")
	s.Text = "old text"
	s.Players[0].Score, s.Players[0].WPM = 7, 55
	s.Players[1].Score, s.Players[1].WPM = 3, 40

	_, next, err := Apply(s, Command{Type: CmdStartRound, ConnID: "a"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	for _, p := range next.Players {
		if p.Score != 0 || p.WPM != 0 {
			t.Fatalf("player %s not reset: %+v", p.ID, p)
		}
	}
	if s.Players[0].Score != 7 {
		t.Fatalf("Apply mutated the input state")
	}
}

func TestSetText(t *testing.T) {
	s := stateWith(PhaseInProgress, "a")

	if _, _, err := Apply(s, Command{Type: CmdSetText}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}

	events, next, err := Apply(s, Command{Type: CmdSetText, Text: "go go go"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.Text != "go go go" || events[0].Text != "go go go" {
		t.Fatalf("text not applied: state=%q events=%+v", next.Text, events)
	}

	if _, _, err := Apply(stateWith(PhaseNotStarted, "a"), Command{Type: CmdSetText, Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
}

func TestTyped(t *testing.T) {
	s := stateWith(PhaseInProgress, "a", "b")
	s.Text = "the quick brown fox"

	events, next, err := Apply(s, Command{Type: CmdTyped, ConnID: "b", Text: "the quick red fox", WPM: 61.5})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	want := Player{ID: "b", Name: "name-b", Score: 2, WPM: 61.5}
	if next.Players[1] != want {
		t.Fatalf("player: got %+v, want %+v", next.Players[1], want)
	}
	if len(events) != 1 || events[0].Type != EvtScoreUpdated || events[0].Player != want {
		t.Fatalf("events: got %+v", events)
	}
}

func TestTyped_Rejections(t *testing.T) {
	notStarted := stateWith(PhaseNotStarted, "a")
	if _, _, err := Apply(notStarted, Command{Type: CmdTyped, ConnID: "a", Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}

	finished := stateWith(PhaseFinished, "a")
	if _, _, err := Apply(finished, Command{Type: CmdTyped, ConnID: "a", Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted after finish, got %v", err)
	}

	stranger := stateWith(PhaseInProgress, "a")
	if _, _, err := Apply(stranger, Command{Type: CmdTyped, ConnID: "zz", Text: "x"}); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("want ErrNotInRoom, got %v", err)
	}
}

func TestTyped_SanitizesWPM(t *testing.T) {
	s := stateWith(PhaseInProgress, "a")
	s.Text = "a b"

	for _, wpm := range []float64{-3, math.NaN(), math.Inf(1)} {
		_, next, err := Apply(s, Command{Type: CmdTyped, ConnID: "a", Text: "a", WPM: wpm})
		if err != nil {
			t.Fatalf("unexpected err %v", err)
		}
		if next.Players[0].WPM != 0 {
			t.Fatalf("wpm %v: got %v, want 0", wpm, next.Players[0].WPM)
		}
	}
}

func TestTimeout(t *testing.T) {
	s := stateWith(PhaseInProgress, "a")
	s.Round = 2

	if _, _, err := Apply(s, Command{Type: CmdTimeout, Round: 1}); !errors.Is(err, ErrStaleTimer) {
		t.Fatalf("want ErrStaleTimer for old round, got %v", err)
	}

	events, next, err := Apply(s, Command{Type: CmdTimeout, Round: 2})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.Phase != PhaseFinished || !ContainsEvent(events, EvtRoundFinished) {
		t.Fatalf("expected finished round, got phase=%v events=%+v", next.Phase, events)
	}

	if _, _, err := Apply(next, Command{Type: CmdTimeout, Round: 2}); !errors.Is(err, ErrStaleTimer) {
		t.Fatalf("second fire must be stale, got %v", err)
	}
}

func TestLeave_HostPromotesNextJoined(t *testing.T) {
	s := stateWith(PhaseNotStarted, "a", "b", "c")

	events, next, err := Apply(s, Command{Type: CmdLeave, ConnID: "a"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.HostID != "b" {
		t.Fatalf("host: got %q, want %q", next.HostID, "b")
	}
	if len(events) != 2 || events[0].Type != EvtHostChanged || events[0].ConnID != "b" || events[1].Type != EvtPlayerLeft {
		t.Fatalf("events: got %+v", events)
	}
}

func TestLeave_NonHost(t *testing.T) {
	s := stateWith(PhaseInProgress, "a", "b", "c")

	events, next, err := Apply(s, Command{Type: CmdLeave, ConnID: "b"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if next.HostID != "a" || len(next.Players) != 2 {
		t.Fatalf("unexpected state %+v", next)
	}
	if ContainsEvent(events, EvtHostChanged) || !ContainsEvent(events, EvtPlayerLeft) {
		t.Fatalf("events: got %+v", events)
	}
}

func TestLeave_LastPlayerEmptiesRoom(t *testing.T) {
	s := stateWith(PhaseInProgress, "a")

	events, next, err := Apply(s, Command{Type: CmdLeave, ConnID: "a"})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if len(events) != 1 || events[0].Type != EvtRoomEmptied {
		t.Fatalf("events: got %+v", events)
	}
	if next.HostID != "" || len(next.Players) != 0 {
		t.Fatalf("unexpected state %+v", next)
	}
}

func TestLeave_UnknownIsNoop(t *testing.T) {
	s := stateWith(PhaseNotStarted, "a")

	events, next, err := Apply(s, Command{Type: CmdLeave, ConnID: "ghost"})
	if err != nil || len(events) != 0 || len(next.Players) != 1 {
		t.Fatalf("expected noop, got events=%+v state=%+v err=%v", events, next, err)
	}
}

func TestUnsupportedCommand(t *testing.T) {
	_, _, err := Apply(NewEmptyState(), Command{Type: "Dance"})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}

func TestRosterNeverHasDuplicates(t *testing.T) {
	s := NewEmptyState()
	ids := []string{"a", "b", "a", "c", "b", "a"}
	for _, id := range ids {
		_, s, _ = Apply(s, Command{Type: CmdJoin, ConnID: id, Name: id})
	}

	seen := map[string]bool{}
	for _, p := range s.Players {
		if seen[p.ID] {
			t.Fatalf("duplicate id %q in %+v", p.ID, s.Players)
		}
		seen[p.ID] = true
	}
	if len(s.Players) != 3 {
		t.Fatalf("expected 3 players, got %d", len(s.Players))
	}
}
