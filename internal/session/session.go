package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
	"github.com/DoyleJ11/typerace-backend/internal/paragraph"
)

const DefaultRoundDuration = 60 * time.Second

// ErrClosed is returned when the session stopped before it could take the message.
var ErrClosed = errors.New("room closed")

// Transport delivers events to one connection or to everyone in a room.
type Transport interface {
	Send(connID, event string, payload any)
	Broadcast(roomID, event string, payload any)
	Join(roomID, connID string)
	Leave(roomID, connID string)
}

// Recorder receives the result of every finished round.
type Recorder interface {
	Record(result engine.Result)
}

// Registry forgets a session once its last player is gone.
type Registry interface {
	Remove(roomID string, s *Session)
}

type Deps struct {
	Transport     Transport
	Paragraphs    paragraph.Provider
	Registry      Registry
	Recorder      Recorder // optional
	RoundDuration time.Duration
	Log           *zap.Logger
}

type Msg interface{ isSessionMsg() }

type Join struct {
	ConnID string
	Name   string
	Reply  chan error
}

func (Join) isSessionMsg() {}

type Start struct{ ConnID string }

func (Start) isSessionMsg() {}

type Typed struct {
	ConnID string
	Text   string
	WPM    float64
}

func (Typed) isSessionMsg() {}

// Leave covers both an explicit leave and a dropped connection.
type Leave struct {
	ConnID       string
	Disconnected bool
}

func (Leave) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type roundTimeout struct{ Round int }

func (roundTimeout) isSessionMsg() {}

// View is the read-only state of a room served over HTTP.
type View struct {
	RoomID    string          `json:"roomId"`
	SessionID string          `json:"sessionId"`
	Phase     engine.Phase    `json:"phase"`
	HostID    string          `json:"hostId"`
	Round     int             `json:"round"`
	Text      string          `json:"text,omitempty"`
	Players   []engine.Player `json:"players"`
}

// Session owns one room. All state is touched only by the loop goroutine.
type Session struct {
	id     string
	sid    string // unique per incarnation of id
	inbox  chan Msg
	state  engine.State
	timer  *time.Timer
	deps   Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, id string, deps Deps) *Session {
	ctx, cancel := context.WithCancel(parent)
	if deps.RoundDuration <= 0 {
		deps.RoundDuration = DefaultRoundDuration
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	sid := uuid.NewString()
	s := &Session{
		id:     id,
		sid:    sid,
		inbox:  make(chan Msg, 64),
		state:  engine.NewEmptyState(),
		deps:   deps,
		log:    deps.Log.Named("session").With(zap.String("room", id), zap.String("session", sid)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

// SessionID is fresh for every Session, even when a room id is reused.
func (s *Session) SessionID() string { return s.sid }

// Done is closed once the session has stopped processing messages.
func (s *Session) Done() <-chan struct{} { return s.done }

// Join adds connID to the room and waits for the outcome.
func (s *Session) Join(ctx context.Context, connID, name string) error {
	reply := make(chan error, 1)
	if err := s.post(Join{ConnID: connID, Name: name, Reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Start(connID string) error {
	return s.post(Start{ConnID: connID})
}

func (s *Session) Typed(connID, text string, wpm float64) error {
	return s.post(Typed{ConnID: connID, Text: text, WPM: wpm})
}

func (s *Session) Leave(connID string) error {
	return s.post(Leave{ConnID: connID})
}

func (s *Session) Disconnected(connID string) error {
	return s.post(Leave{ConnID: connID, Disconnected: true})
}

// Snapshot reflects the current state without racing the loop.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.post(GetState{Reply: reply}); err != nil {
		return View{}, err
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) post(m Msg) error {
	// The inbox is buffered, so check done first or a closed session could swallow m.
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.stopTimer()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("session stopped", zap.Error(s.ctx.Err()))
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- s.join(msg.ConnID, msg.Name)

			case Start:
				s.start(msg.ConnID)

			case Typed:
				s.typed(msg.ConnID, msg.Text, msg.WPM)

			case Leave:
				if emptied := s.leave(msg.ConnID, msg.Disconnected); emptied {
					s.close()
					return
				}

			case roundTimeout:
				s.timeout(msg.Round)

			case GetState:
				msg.Reply <- s.snapshot()
			}
		}
	}
}

func (s *Session) close() {
	s.stopTimer()
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(s.id, s)
	}
	s.cancel()
	s.log.Info("room emptied, session closed", zap.Int("rounds", s.state.Round))
}

func (s *Session) snapshot() View {
	return View{
		RoomID:    s.id,
		SessionID: s.sid,
		Phase:     s.state.Phase,
		HostID:    s.state.HostID,
		Round:     s.state.Round,
		Text:      s.state.Text,
		Players:   s.players(),
	}
}

func (s *Session) players() []engine.Player {
	return slices.Clone(s.state.Players)
}
