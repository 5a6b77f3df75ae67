package session

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
	"github.com/DoyleJ11/typerace-backend/pkg/types"
)

func (s *Session) join(connID, name string) error {
	events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdJoin, ConnID: connID, Name: name})
	if err != nil {
		s.reject(connID, err)
		return err
	}
	s.state = next

	t := s.deps.Transport
	t.Join(s.id, connID)
	for _, ev := range events {
		if ev.Type == engine.EvtPlayerJoined {
			t.Broadcast(s.id, types.EventPlayerJoined, ev.Player)
			s.log.Info("player joined", zap.String("conn", connID), zap.String("name", name),
				zap.Int("players", len(s.state.Players)))
		}
	}

	// Catch the joiner up on what everyone else already has.
	t.Send(connID, types.EventPlayers, s.players())
	t.Send(connID, types.EventNewHost, s.state.HostID)
	return nil
}

func (s *Session) start(connID string) {
	events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdStartRound, ConnID: connID})
	if err != nil {
		s.reject(connID, err)
		return
	}
	s.state = next
	s.apply(events)

	round := s.state.Round
	s.log.Info("round starting", zap.Int("round", round), zap.String("host", connID))

	// Other messages for this room wait in the inbox until the text is in.
	text := s.deps.Paragraphs.Fetch(s.ctx)
	if s.ctx.Err() != nil {
		s.log.Debug("session stopped during paragraph fetch", zap.Int("round", round))
		return
	}

	events, next, err = engine.Apply(s.state, engine.Command{Type: engine.CmdSetText, Text: text})
	if err != nil {
		s.log.Error("could not set round text", zap.Int("round", round), zap.Error(err))
		return
	}
	s.state = next
	s.apply(events)
	s.armTimer(round)
}

func (s *Session) typed(connID, text string, wpm float64) {
	events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdTyped, ConnID: connID, Text: text, WPM: wpm})
	if err != nil {
		s.reject(connID, err)
		return
	}
	s.state = next
	s.apply(events)
}

func (s *Session) timeout(round int) {
	events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdTimeout, Round: round})
	if errors.Is(err, engine.ErrStaleTimer) {
		s.log.Debug("dropping stale round timer", zap.Int("timer_round", round), zap.Int("round", s.state.Round))
		return
	}
	if err != nil {
		s.log.Error("round timeout failed", zap.Int("round", round), zap.Error(err))
		return
	}
	s.state = next
	s.timer = nil
	s.apply(events)

	s.log.Info("round finished", zap.Int("round", round), zap.Int("players", len(s.state.Players)))
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(engine.NewResult(s.id, s.sid, s.state, time.Now()))
	}
}

// leave reports whether the room is now empty.
func (s *Session) leave(connID string, disconnected bool) bool {
	events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdLeave, ConnID: connID})
	if err != nil {
		s.log.Error("leave failed", zap.String("conn", connID), zap.Error(err))
		return false
	}
	s.state = next
	s.deps.Transport.Leave(s.id, connID)

	if len(events) > 0 {
		s.log.Info("player left", zap.String("conn", connID), zap.Bool("disconnected", disconnected),
			zap.Int("players", len(s.state.Players)))
	}
	if engine.ContainsEvent(events, engine.EvtRoomEmptied) {
		return true
	}
	s.apply(events)
	return false
}

// apply turns engine events into room broadcasts, in order.
func (s *Session) apply(events []engine.Event) {
	t := s.deps.Transport
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtPlayersReset:
			t.Broadcast(s.id, types.EventPlayers, s.players())
		case engine.EvtRoundStarted:
			t.Broadcast(s.id, types.EventGameStarted, ev.Text)
		case engine.EvtScoreUpdated:
			t.Broadcast(s.id, types.EventPlayerScore, types.PlayerScore{ID: ev.Player.ID, Score: ev.Player.Score, WPM: ev.Player.WPM})
		case engine.EvtRoundFinished:
			t.Broadcast(s.id, types.EventGameFinished, nil)
			t.Broadcast(s.id, types.EventPlayers, s.players())
		case engine.EvtHostChanged:
			t.Broadcast(s.id, types.EventNewHost, ev.ConnID)
		case engine.EvtPlayerLeft:
			t.Broadcast(s.id, types.EventPlayerLeft, ev.ConnID)
		}
	}
}

func (s *Session) reject(connID string, err error) {
	s.log.Debug("rejected", zap.String("conn", connID), zap.Error(err))
	s.deps.Transport.Send(connID, types.EventError, err.Error())
}

func (s *Session) armTimer(round int) {
	s.stopTimer()
	s.timer = time.AfterFunc(s.deps.RoundDuration, func() {
		_ = s.post(roundTimeout{Round: round})
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
