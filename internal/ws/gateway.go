package ws

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/typerace-backend/pkg/types"
)

type Options struct {
	OriginPatterns    []string
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	OutboxSize        int
	MessagesPerSecond float64
	MessageBurst      int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 30
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 60
	}
	return o
}

// client is the gateway's side of one socket. Frames are queued on out in the
// order they were sent and written by a single goroutine.
type client struct {
	id       string
	out      chan []byte
	gone     chan struct{}
	dropOnce sync.Once
}

func (c *client) drop() { c.dropOnce.Do(func() { close(c.gone) }) }

// Gateway tracks live connections and room membership, and implements
// session.Transport. Send and Broadcast never block: a connection that
// cannot keep up is dropped.
type Gateway struct {
	mu     sync.RWMutex
	conns  map[string]*client
	groups map[string]map[string]struct{}
	opts   Options
	log    *zap.Logger
}

func NewGateway(opts Options, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		conns:  make(map[string]*client),
		groups: make(map[string]map[string]struct{}),
		opts:   opts.withDefaults(),
		log:    log.Named("ws"),
	}
}

func (g *Gateway) Send(connID, event string, payload any) {
	b, ok := g.encode(event, payload)
	if !ok {
		return
	}
	g.mu.RLock()
	c := g.conns[connID]
	g.mu.RUnlock()
	if c != nil {
		g.enqueue(c, b)
	}
}

func (g *Gateway) Broadcast(roomID, event string, payload any) {
	b, ok := g.encode(event, payload)
	if !ok {
		return
	}
	g.mu.RLock()
	targets := make([]*client, 0, len(g.groups[roomID]))
	for id := range g.groups[roomID] {
		if c := g.conns[id]; c != nil {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.enqueue(c, b)
	}
}

func (g *Gateway) Join(roomID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[connID]; !ok {
		return
	}
	members := g.groups[roomID]
	if members == nil {
		members = make(map[string]struct{})
		g.groups[roomID] = members
	}
	members[connID] = struct{}{}
}

func (g *Gateway) Leave(roomID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(roomID, connID)
}

// Members is the number of connections currently grouped under roomID.
func (g *Gateway) Members(roomID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups[roomID])
}

func (g *Gateway) register(id string) *client {
	c := &client{
		id:   id,
		out:  make(chan []byte, g.opts.OutboxSize),
		gone: make(chan struct{}),
	}
	g.mu.Lock()
	g.conns[id] = c
	g.mu.Unlock()
	return c
}

func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
	for roomID := range g.groups {
		g.leaveLocked(roomID, id)
	}
}

func (g *Gateway) leaveLocked(roomID, connID string) {
	members := g.groups[roomID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(g.groups, roomID)
	}
}

func (g *Gateway) enqueue(c *client, b []byte) {
	select {
	case c.out <- b:
	default:
		g.log.Warn("outbox full, dropping connection", zap.String("conn", c.id))
		c.drop()
	}
}

func (g *Gateway) encode(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(types.ServerMessage{Type: event, Payload: payload})
	if err != nil {
		g.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return b, true
}
