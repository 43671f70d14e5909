package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.chatroom/internal/metrics"
	"uk.co.dudmesh.chatroom/internal/model"
)

type State int32

const (
	Connecting State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// IdentityFunc returns the author name to use for the next message.
type IdentityFunc func() string

type Session struct {
	room     *Room
	channel  model.Channel
	identity IdentityFunc

	state     atomic.Int32
	closeOnce sync.Once
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Channel() model.Channel {
	return s.channel
}

// Open registers the channel, queues the latest history page for the caller
// and announces the new presence count. The history page is read in line
// with message broadcasts, so no message can slip between the page and the
// live feed.
func (s *Session) Open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
		return model.ErrorSessionClosed
	}

	s.room.registry.Add(s.channel)
	s.room.broadcaster.Welcome(s.channel, s.loadHistory)
	s.room.broadcaster.BroadcastPresence()
	return nil
}

func (s *Session) loadHistory(ctx context.Context) ([]byte, model.MessageID, error) {
	page, err := s.room.history.Page(ctx, nil)
	if err != nil {
		return nil, 0, err
	}

	payload, err := s.room.renderer.HistoryReplace(page.Messages, page.NextCursor)
	if err != nil {
		return nil, 0, fmt.Errorf("rendering history: %w", err)
	}

	var newest model.MessageID
	if len(page.Messages) > 0 {
		newest = page.Messages[0].ID
	}
	return payload, newest, nil
}

// Receive stores text as a message from the session's current identity and
// broadcasts it. Blank messages are rejected with ErrorEmptyMessage.
func (s *Session) Receive(ctx context.Context, text string) error {
	if s.State() != Connected {
		return model.ErrorSessionClosed
	}
	if !s.room.registry.Contains(s.channel) {
		// evicted after a failed send
		s.Close()
		return model.ErrorSessionClosed
	}
	if strings.TrimSpace(text) == "" {
		metrics.MessagesRejected.WithLabelValues("empty").Inc()
		return model.ErrorEmptyMessage
	}

	message, err := s.room.store.Append(ctx, s.identity(), text, s.room.now())
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("storage").Inc()
		return fmt.Errorf("posting message: %w", err)
	}
	metrics.MessagesPosted.Inc()

	s.room.broadcaster.BroadcastMessage(message)
	return nil
}

func (s *Session) handle(ctx context.Context, text string) {
	err := s.Receive(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrorEmptyMessage):
		log.Debugf("ignoring empty message")
	case model.IsStorageError(err):
		log.Errorf("%+v", err)
	default:
		log.Warnf("receiving message: %+v", err)
	}
}

// Close leaves the room. It is safe to call more than once and after the
// channel was already evicted.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		previous := State(s.state.Swap(int32(Disconnected)))
		if previous != Connected {
			return
		}
		if s.room.registry.Remove(s.channel) {
			s.room.broadcaster.BroadcastPresence()
		}
	})
}
