package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
	"github.com/DoyleJ11/typerace-backend/internal/session"
	"github.com/DoyleJ11/typerace-backend/pkg/types"
)

const maxFrameBytes = 64 << 10

var (
	errBadJSON     = errors.New("bad json")
	errUnknownType = errors.New("unknown message type")
	errNoRoom      = errors.New("join a room first")
	errNoRoomID    = errors.New("room id is required")
	errNoName      = errors.New("name is required")
	errRateLimited = errors.New("too many messages, slow down")
)

// Rooms hands out the session a connection should talk to.
type Rooms interface {
	Join(ctx context.Context, roomID, connID, name string) (*session.Session, error)
}

// Handler upgrades the request and pumps frames between the socket and the
// connection's current session.
func Handler(g *Gateway, rooms Rooms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.opts.OriginPatterns,
		})
		if err != nil {
			g.log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(maxFrameBytes)

		id := uuid.NewString()
		c := g.register(id)
		log := g.log.With(zap.String("conn", id))
		log.Debug("connected", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			g.writeLoop(ctx, conn, c, log)
		}()
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			g.pingLoop(ctx, conn, log)
		}()

		g.Send(id, types.EventWelcome, types.Welcome{ID: id})

		p := &peer{id: id, g: g, rooms: rooms, log: log}
		p.readLoop(ctx, conn)

		if p.room != nil {
			_ = p.room.Disconnected(id)
		}
		g.unregister(id)
		cancel()
		<-writerDone
		<-pingDone
		log.Debug("disconnected")
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, c *client, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.gone:
			_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			return
		case b := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				_ = conn.CloseNow()
				return
			}
		}
	}
}

// pingLoop keeps quiet connections open and closes ones whose peer stopped
// answering. Pongs are only seen while readLoop is reading.
func (g *Gateway) pingLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	t := time.NewTicker(g.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, g.opts.PingInterval)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug("ping failed, closing", zap.Error(err))
				}
				_ = conn.CloseNow()
				return
			}
		}
	}
}

// peer is the reader side of one connection. Only the read loop touches it.
type peer struct {
	id    string
	g     *Gateway
	rooms Rooms
	room  *session.Session
	lim   *rate.Limiter
	log   *zap.Logger
}

func (p *peer) readLoop(ctx context.Context, conn *websocket.Conn) {
	p.lim = rate.NewLimiter(rate.Limit(p.g.opts.MessagesPerSecond), p.g.opts.MessageBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				p.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		if !p.lim.Allow() {
			p.fail(errRateLimited)
			continue
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			p.fail(errBadJSON)
			continue
		}
		p.dispatch(ctx, cm)
	}
}

func (p *peer) dispatch(ctx context.Context, cm types.ClientMessage) {
	if cm.Type == types.EventJoinRoom {
		p.joinRoom(ctx, cm.RoomID, cm.Name)
		return
	}

	switch cm.Type {
	case types.EventStartGame, types.EventPlayerTyped, types.EventLeave:
	default:
		p.fail(errUnknownType)
		return
	}
	if p.room == nil {
		p.fail(errNoRoom)
		return
	}

	var err error
	switch cm.Type {
	case types.EventStartGame:
		err = p.room.Start(p.id)
	case types.EventPlayerTyped:
		err = p.room.Typed(p.id, cm.Text, cm.WPM)
	case types.EventLeave:
		_ = p.room.Leave(p.id)
		p.room = nil
		return
	}
	if errors.Is(err, session.ErrClosed) {
		p.room = nil
		p.fail(errNoRoom)
	}
}

func (p *peer) joinRoom(ctx context.Context, roomID, name string) {
	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)
	if roomID == "" {
		p.fail(errNoRoomID)
		return
	}
	if name == "" {
		p.fail(errNoName)
		return
	}

	jctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s, err := p.rooms.Join(jctx, roomID, p.id, name)
	if err != nil {
		// Rule violations were already reported to the client by the room.
		if !errors.Is(err, engine.ErrRoundInProgress) {
			p.log.Warn("join failed", zap.String("room", roomID), zap.Error(err))
			p.fail(err)
		}
		return
	}
	// The old room is left only once the new one has accepted the player.
	if p.room != nil && p.room != s {
		_ = p.room.Leave(p.id)
	}
	p.room = s
}

func (p *peer) fail(err error) {
	p.g.Send(p.id, types.EventError, err.Error())
}
