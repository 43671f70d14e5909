package chat

import (
	"context"
	"io"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.chatroom/internal/broadcast"
	"uk.co.dudmesh.chatroom/internal/history"
	"uk.co.dudmesh.chatroom/internal/model"
)

type Registry interface {
	Add(ch model.Channel)
	Remove(ch model.Channel) bool
	Contains(ch model.Channel) bool
	Snapshot() []model.Channel
	Count() int
}

type Broadcaster interface {
	BroadcastMessage(message model.Message)
	BroadcastPresence()
	Welcome(ch model.Channel, load broadcast.Loader)
}

type Store interface {
	Append(ctx context.Context, author, content string, at time.Time) (model.Message, error)
}

type Historian interface {
	Page(ctx context.Context, cursor model.Cursor) (history.Page, error)
}

type HistoryRenderer interface {
	HistoryReplace(messages []model.Message, next model.Cursor) ([]byte, error)
}

// Room is the single chat room every session joins.
type Room struct {
	registry    Registry
	broadcaster Broadcaster
	store       Store
	history     Historian
	renderer    HistoryRenderer
	now         func() time.Time
}

func NewRoom(registry Registry, broadcaster Broadcaster, store Store, history Historian, renderer HistoryRenderer) *Room {
	return &Room{
		registry:    registry,
		broadcaster: broadcaster,
		store:       store,
		history:     history,
		renderer:    renderer,
		now:         time.Now,
	}
}

// Join creates a session for ch. The session is not live until Open.
func (r *Room) Join(ch model.Channel, identity IdentityFunc) *Session {
	return &Session{
		room:     r,
		channel:  ch,
		identity: identity,
	}
}

// Serve runs a websocket connection as a session until it disconnects.
func (r *Room) Serve(ctx context.Context, conn *Conn, identity IdentityFunc) {
	session := r.Join(conn, identity)
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		log.Warnf("opening session for %s: %+v", conn.Addr(), err)
		conn.Close()
		return
	}

	conn.Serve(ctx, func(ctx context.Context, text string) {
		session.handle(ctx, text)
	})
}

func (r *Room) Online() int {
	return r.registry.Count()
}

// Shutdown closes every connected channel that can be closed.
func (r *Room) Shutdown() {
	channels := r.registry.Snapshot()
	closed := 0
	for _, ch := range channels {
		if closer, ok := ch.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Warnf("closing channel: %+v", err)
			}
			closed++
		}
	}
	log.Infof("closed %d of %d channels", closed, len(channels))
}
