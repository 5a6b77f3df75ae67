package engine

import (
	"errors"
	"math"
	"slices"

	"github.com/samber/lo"
)

// Messages double as the text sent back to the offending client.
var ErrRoundInProgress = errors.New("game already in progress, wait for this round")
var ErrAlreadyStarted = errors.New("game has already started")
var ErrNotHost = errors.New("you are not the host, only the host can start the game")
var ErrNotStarted = errors.New("game has not started yet")
var ErrNotInRoom = errors.New("you are not in this room")
var ErrEmptyText = errors.New("round text is empty")
var ErrStaleTimer = errors.New("round timer is stale")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhaseInProgress Phase = "in-progress"
	PhaseFinished   Phase = "finished"
)

type Player struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score int     `json:"score"`
	WPM   float64 `json:"wpm"`
}

type State struct {
	Phase   Phase
	Players []Player
	HostID  string
	Text    string
	Round   int
}

type CommandType string

const (
	CmdJoin       CommandType = "Join"
	CmdStartRound CommandType = "StartRound"
	CmdSetText    CommandType = "SetText"
	CmdTyped      CommandType = "Typed"
	CmdTimeout    CommandType = "Timeout"
	CmdLeave      CommandType = "Leave"
)

/*
	CmdJoin       -> EvtPlayerJoined (omitted when the player is already in the roster)
	CmdStartRound -> EvtPlayersReset
	CmdSetText    -> EvtRoundStarted
	CmdTyped      -> EvtScoreUpdated
	CmdTimeout    -> EvtRoundFinished
	CmdLeave      -> EvtHostChanged? -> EvtPlayerLeft, or EvtRoomEmptied when nobody is left

	StartRound and SetText are split so the caller can fetch the paragraph in between
	while the phase already reads in-progress.
*/

type Command struct {
	Type   CommandType
	ConnID string
	Name   string
	Text   string
	WPM    float64
	Round  int
}

type EventType string

const (
	EvtPlayerJoined  EventType = "PlayerJoined"
	EvtPlayersReset  EventType = "PlayersReset"
	EvtRoundStarted  EventType = "RoundStarted"
	EvtScoreUpdated  EventType = "ScoreUpdated"
	EvtRoundFinished EventType = "RoundFinished"
	EvtHostChanged   EventType = "HostChanged"
	EvtPlayerLeft    EventType = "PlayerLeft"
	EvtRoomEmptied   EventType = "RoomEmptied"
)

type Event struct {
	Type   EventType
	ConnID string
	Player Player
	Text   string
}

// Apply validates cmd against s and returns the resulting events and state.
// On error the original state is returned untouched.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s
	newState.Players = slices.Clone(s.Players)

	switch cmd.Type {
	case CmdJoin:
		if s.Phase == PhaseInProgress {
			return nil, s, ErrRoundInProgress
		}
		if hasPlayer(s, cmd.ConnID) {
			return nil, s, nil
		}

		p := Player{ID: cmd.ConnID, Name: cmd.Name}
		newState.Players = append(newState.Players, p)
		if len(newState.Players) == 1 {
			newState.HostID = cmd.ConnID
		}
		return []Event{{Type: EvtPlayerJoined, ConnID: cmd.ConnID, Player: p}}, newState, nil

	case CmdStartRound:
		if s.Phase == PhaseInProgress {
			return nil, s, ErrAlreadyStarted
		}
		if cmd.ConnID != s.HostID {
			return nil, s, ErrNotHost
		}

		for i := range newState.Players {
			newState.Players[i].Score = 0
			newState.Players[i].WPM = 0
		}
		newState.Phase = PhaseInProgress
		newState.Round++
		return []Event{{Type: EvtPlayersReset}}, newState, nil

	case CmdSetText:
		if s.Phase != PhaseInProgress {
			return nil, s, ErrNotStarted
		}
		if cmd.Text == "" {
			return nil, s, ErrEmptyText
		}

		newState.Text = cmd.Text
		return []Event{{Type: EvtRoundStarted, Text: cmd.Text}}, newState, nil

	case CmdTyped:
		if s.Phase != PhaseInProgress {
			return nil, s, ErrNotStarted
		}
		idx := playerIndex(s, cmd.ConnID)
		if idx < 0 {
			return nil, s, ErrNotInRoom
		}

		p := &newState.Players[idx]
		p.Score = Score(s.Text, cmd.Text)
		p.WPM = sanitizeWPM(cmd.WPM)
		return []Event{{Type: EvtScoreUpdated, ConnID: p.ID, Player: *p}}, newState, nil

	case CmdTimeout:
		// Each armed timer belongs to one round; anything else is left over from an earlier one.
		if s.Phase != PhaseInProgress || cmd.Round != s.Round {
			return nil, s, ErrStaleTimer
		}

		newState.Phase = PhaseFinished
		return []Event{{Type: EvtRoundFinished}}, newState, nil

	case CmdLeave:
		idx := playerIndex(s, cmd.ConnID)
		if idx < 0 {
			return nil, s, nil
		}

		newState.Players = slices.Delete(newState.Players, idx, idx+1)
		if len(newState.Players) == 0 {
			newState.HostID = ""
			return []Event{{Type: EvtRoomEmptied, ConnID: cmd.ConnID}}, newState, nil
		}

		events := []Event{}
		if s.HostID == cmd.ConnID {
			newState.HostID = newState.Players[0].ID
			events = append(events, Event{Type: EvtHostChanged, ConnID: newState.HostID})
		}
		events = append(events, Event{Type: EvtPlayerLeft, ConnID: cmd.ConnID})
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func hasPlayer(s State, id string) bool {
	return lo.ContainsBy(s.Players, func(p Player) bool { return p.ID == id })
}

func playerIndex(s State, id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}

func sanitizeWPM(wpm float64) float64 {
	if math.IsNaN(wpm) || math.IsInf(wpm, 0) || wpm < 0 {
		return 0
	}
	return wpm
}
