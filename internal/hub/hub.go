package hub

import (
	"context"
	"errors"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DoyleJ11/typerace-backend/internal/session"
)

// ErrShutdown is returned once the hub has stopped.
var ErrShutdown = errors.New("hub is shut down")

type HubMsg interface{ isHubMsg() }

// EnsureSession returns the room's session, creating it if needed.
type EnsureSession struct {
	RoomID string
	Reply  chan *session.Session
}

type GetSession struct {
	RoomID string
	Reply  chan *session.Session
}

// RemoveSession deletes RoomID only while it still maps to Session.
type RemoveSession struct {
	RoomID  string
	Session *session.Session
}

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (EnsureSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ListRooms) isHubMsg()     {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	deps     session.Deps
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewHub starts the registry. deps is handed to every session it creates, with
// the hub itself filled in as the session's Registry.
func NewHub(parent context.Context, deps session.Deps, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
	deps.Registry = h
	if deps.Log == nil {
		deps.Log = log
	}
	h.deps = deps
	go h.loop()
	return h
}

// GetOrCreate never returns two different sessions for the same room id.
func (h *Hub) GetOrCreate(ctx context.Context, roomID string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, EnsureSession{RoomID: roomID, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

// Get returns nil when no session exists for roomID.
func (h *Hub) Get(ctx context.Context, roomID string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, GetSession{RoomID: roomID, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

// Remove is called by a session from its own goroutine when its last player leaves.
func (h *Hub) Remove(roomID string, s *session.Session) {
	select {
	case h.inbox <- RemoveSession{RoomID: roomID, Session: s}:
	case <-h.ctx.Done():
	}
}

// Rooms lists the ids of every live room, sorted.
func (h *Hub) Rooms(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-h.ctx.Done():
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join adds connID to roomID, creating the room on first use. A session that
// emptied and stopped between lookup and join is replaced with a fresh one.
func (h *Hub) Join(ctx context.Context, roomID, connID, name string) (*session.Session, error) {
	for {
		s, err := h.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, err
		}
		err = s.Join(ctx, connID, name)
		if errors.Is(err, session.ErrClosed) {
			// A stopped session unregisters before closing, so the retry sees a new one.
			h.Remove(roomID, s)
			continue
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Shutdown stops the hub and every session it owns.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) await(ctx context.Context, reply chan *session.Session) (*session.Session, error) {
	select {
	case s := <-reply:
		return s, nil
	case <-h.ctx.Done():
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			// Sessions share h.ctx and stop on their own.
			clear(h.sessions)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureSession:
				if s := h.sessions[msg.RoomID]; s != nil {
					msg.Reply <- s
					break
				}
				s := session.New(h.ctx, msg.RoomID, h.deps)
				h.sessions[msg.RoomID] = s
				h.log.Info("room created", zap.String("room", msg.RoomID), zap.Int("rooms", len(h.sessions)))
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.RoomID] // may be nil

			case RemoveSession:
				if h.sessions[msg.RoomID] != msg.Session {
					break
				}
				delete(h.sessions, msg.RoomID)
				h.log.Info("room removed", zap.String("room", msg.RoomID), zap.Int("rooms", len(h.sessions)))

			case ListRooms:
				ids := lo.Keys(h.sessions)
				slices.Sort(ids)
				msg.Reply <- ids

			case ShutdownHub:
				h.log.Info("shutting down", zap.Int("rooms", len(h.sessions)))
				h.cancel()
			}
		}
	}
}
