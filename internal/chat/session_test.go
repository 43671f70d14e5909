package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.chatroom/internal/broadcast"
	"uk.co.dudmesh.chatroom/internal/history"
	"uk.co.dudmesh.chatroom/internal/messagestore"
	"uk.co.dudmesh.chatroom/internal/model"
	"uk.co.dudmesh.chatroom/internal/presence"
	"uk.co.dudmesh.chatroom/internal/render"
)

type recordingChannel struct {
	mu       sync.Mutex
	payloads []string
}

func (c *recordingChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
	return nil
}

func (c *recordingChannel) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func (c *recordingChannel) count(substr string) int {
	n := 0
	for _, p := range c.received() {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

type fixture struct {
	room     *Room
	registry *presence.Registry
	store    *messagestore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := messagestore.NewInMemory(cuid2.Generate(), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, store Store, ranger history.Store) *fixture {
	t.Helper()
	tmpl, err := render.New()
	require.NoError(t, err)

	registry := presence.New()
	engine := broadcast.New(registry, tmpl, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	f := &fixture{
		room:     NewRoom(registry, engine, store, history.New(ranger), tmpl),
		registry: registry,
	}
	if s, ok := store.(*messagestore.Store); ok {
		f.store = s
	}
	return f
}

func fixed(name string) IdentityFunc {
	return func() string { return name }
}

func TestSessionLifecycle(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ch := &recordingChannel{}

	session := f.room.Join(ch, fixed("alice"))
	assert.Equal(Connecting, session.State())
	assert.Equal(0, f.registry.Count())

	require.NoError(t, session.Open(context.Background()))
	assert.Equal(Connected, session.State())
	assert.Equal(1, f.room.Online())

	require.Eventually(t, func() bool {
		return len(ch.received()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(ch.received()[0], `hx-swap-oob="innerHTML"`)
	assert.Eventually(func() bool {
		return ch.count("1 user connected") == 1
	}, time.Second, 5*time.Millisecond)

	session.Close()
	session.Close()
	assert.Equal(Disconnected, session.State())
	assert.Equal(0, f.registry.Count())
	assert.ErrorIs(session.Open(context.Background()), model.ErrorSessionClosed)
	assert.ErrorIs(session.Receive(context.Background(), "hello"), model.ErrorSessionClosed)
}

func TestOpenSendsLatestHistory(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"first", "second", "third"} {
		_, err := f.store.Append(context.Background(), "bob", text, time.Now())
		require.NoError(t, err)
	}

	ch := &recordingChannel{}
	require.NoError(t, f.room.Join(ch, fixed("alice")).Open(context.Background()))

	require.Eventually(t, func() bool {
		return len(ch.received()) > 0
	}, time.Second, 5*time.Millisecond)
	history := ch.received()[0]
	third := strings.Index(history, "third")
	first := strings.Index(history, "first")
	assert.True(t, third >= 0 && first > third, "history should be newest first: %s", history)
	assert.Contains(t, history, `hx-get="/messages?last_id=1"`)
}

func TestTwoSessionsReceiveExactlyOneCopy(t *testing.T) {
	f := newFixture(t)
	a, b := &recordingChannel{}, &recordingChannel{}
	sa := f.room.Join(a, fixed("alice"))
	sb := f.room.Join(b, fixed("bob"))

	var wg sync.WaitGroup
	for _, s := range []*Session{sa, sb} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			assert.NoError(t, s.Open(context.Background()))
		}(s)
	}
	wg.Wait()
	require.Equal(t, 2, f.registry.Count())

	require.NoError(t, sa.Receive(context.Background(), "hello everyone"))

	assert.Eventually(t, func() bool {
		return a.count("hello everyone") == 1 && b.count("hello everyone") == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.count("hello everyone"))
	assert.Equal(t, 1, b.count("hello everyone"))
	assert.Equal(t, 1, b.count("<strong>alice:</strong>"))
}

func TestReceiveRejectsBlankMessages(t *testing.T) {
	f := newFixture(t)
	session := f.room.Join(&recordingChannel{}, fixed("alice"))
	require.NoError(t, session.Open(context.Background()))

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, session.Receive(context.Background(), text), model.ErrorEmptyMessage)
	}

	messages, err := f.store.RangeBefore(context.Background(), nil, 30)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestIdentityIsReadPerMessage(t *testing.T) {
	f := newFixture(t)
	name := "alice"
	var mu sync.Mutex
	session := f.room.Join(&recordingChannel{}, func() string {
		mu.Lock()
		defer mu.Unlock()
		return name
	})
	require.NoError(t, session.Open(context.Background()))

	require.NoError(t, session.Receive(context.Background(), "before"))
	mu.Lock()
	name = "alice2"
	mu.Unlock()
	require.NoError(t, session.Receive(context.Background(), "after"))

	messages, err := f.store.RangeBefore(context.Background(), nil, 30)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "alice2", messages[0].Author)
	assert.Equal(t, "alice", messages[1].Author)
	assert.Equal(t, Connected, session.State())
}

type brokenStore struct{}

func (brokenStore) Append(context.Context, string, string, time.Time) (model.Message, error) {
	return model.Message{}, &model.StorageError{Op: "append", Err: errors.New("disk I/O error")}
}

func (brokenStore) RangeBefore(context.Context, model.Cursor, int) ([]model.Message, error) {
	return nil, &model.StorageError{Op: "range", Err: errors.New("disk I/O error")}
}

func TestStorageErrorsStayLocal(t *testing.T) {
	f := newFixtureWithStore(t, brokenStore{}, brokenStore{})
	a, b := &recordingChannel{}, &recordingChannel{}
	sa := f.room.Join(a, fixed("alice"))
	sb := f.room.Join(b, fixed("bob"))

	require.NoError(t, sa.Open(context.Background()))
	require.NoError(t, sb.Open(context.Background()))

	err := sa.Receive(context.Background(), "hello")
	assert.True(t, model.IsStorageError(err))
	assert.Equal(t, Connected, sa.State())
	assert.Equal(t, Connected, sb.State())
	assert.Equal(t, 2, f.registry.Count())

	assert.Eventually(t, func() bool {
		return b.count("2 users connected") >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectRacesEviction(t *testing.T) {
	f := newFixture(t)
	leaving, staying := &recordingChannel{}, &recordingChannel{}
	sl := f.room.Join(leaving, fixed("alice"))
	ss := f.room.Join(staying, fixed("bob"))
	require.NoError(t, sl.Open(context.Background()))
	require.NoError(t, ss.Open(context.Background()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sl.Close()
	}()
	go func() {
		defer wg.Done()
		f.registry.RemoveAll([]model.Channel{leaving})
	}()
	wg.Wait()

	assert.Equal(t, 1, f.registry.Count())
	assert.Equal(t, Disconnected, sl.State())
	assert.Equal(t, Connected, ss.State())
}

func TestCloseBeforeOpen(t *testing.T) {
	f := newFixture(t)
	ch := &recordingChannel{}
	session := f.room.Join(ch, fixed("alice"))

	session.Close()
	assert.Equal(t, Disconnected, session.State())
	assert.Empty(t, ch.received())
	assert.ErrorIs(t, session.Open(context.Background()), model.ErrorSessionClosed)
}

// interleavingStore lets another session post while a history page is read.
type interleavingStore struct {
	*messagestore.Store
	armed atomic.Bool
	after bool
	post  func()
}

func (s *interleavingStore) RangeBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error) {
	fire := s.armed.CompareAndSwap(true, false)
	if fire && !s.after {
		s.post()
	}
	messages, err := s.Store.RangeBefore(ctx, cursor, limit)
	if fire && s.after {
		s.post()
	}
	return messages, err
}

// shown counts text in the frames a client still displays: everything from
// the last history replace onwards.
func shown(frames []string, text string) int {
	start := -1
	for i, frame := range frames {
		if strings.Contains(frame, `hx-swap-oob="innerHTML"`) {
			start = i
		}
	}
	if start < 0 {
		return 0
	}

	n := 0
	for _, frame := range frames[start:] {
		n += strings.Count(frame, text)
	}
	return n
}

func TestMessagePostedWhileJoiningIsShownOnce(t *testing.T) {
	tests := []struct {
		name  string
		after bool
	}{
		{"posted before the page is read", false},
		{"posted after the page is read", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := messagestore.NewInMemory(cuid2.Generate(), time.UTC)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })

			racing := &interleavingStore{Store: store, after: tt.after}
			f := newFixtureWithStore(t, store, racing)

			bob := &recordingChannel{}
			sb := f.room.Join(bob, fixed("bob"))
			require.NoError(t, sb.Open(context.Background()))
			require.Eventually(t, func() bool {
				return bob.count(`hx-swap-oob="innerHTML"`) == 1
			}, time.Second, 5*time.Millisecond)

			racing.post = func() {
				assert.NoError(t, sb.Receive(context.Background(), "interleaved"))
			}
			racing.armed.Store(true)

			alice := &recordingChannel{}
			require.NoError(t, f.room.Join(alice, fixed("alice")).Open(context.Background()))

			assert.Eventually(t, func() bool {
				return shown(alice.received(), "interleaved") == 1
			}, time.Second, 5*time.Millisecond)
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 1, shown(alice.received(), "interleaved"))
			assert.Equal(t, 1, bob.count("interleaved"))
		})
	}
}

type unreachableChannel struct {
	recordingChannel
	closed atomic.Bool
}

func (c *unreachableChannel) Send(ctx context.Context, payload []byte) error {
	c.recordingChannel.Send(ctx, payload)
	return errors.New("send queue full")
}

func (c *unreachableChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func TestEvictedSessionIsDisconnected(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	ghost := &unreachableChannel{}
	session := f.room.Join(ghost, fixed("ghost"))
	require.NoError(t, session.Open(context.Background()))

	assert.Eventually(func() bool {
		return ghost.closed.Load() && !f.registry.Contains(ghost)
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(session.Receive(context.Background(), "still here"), model.ErrorSessionClosed)
	assert.Equal(Disconnected, session.State())

	messages, err := f.store.RangeBefore(context.Background(), nil, 30)
	require.NoError(t, err)
	assert.Empty(messages)
}
