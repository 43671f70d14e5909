package broadcast

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/samber/lo"
	"uk.co.dudmesh.chatroom/internal/metrics"
	"uk.co.dudmesh.chatroom/internal/model"
)

type Registry interface {
	Snapshot() []model.Channel
	RemoveAll(chs []model.Channel) int
	Contains(ch model.Channel) bool
	Count() int
}

type Renderer interface {
	Message(message model.Message) ([]byte, error)
	Presence(count int) ([]byte, error)
}

type kind int

const (
	kindMessage kind = iota
	kindPresence
	kindWelcome
)

func (k kind) String() string {
	switch k {
	case kindPresence:
		return "presence"
	case kindWelcome:
		return "welcome"
	default:
		return "message"
	}
}

// Loader renders the initial view for a joining channel and returns the
// newest message id the view contains (zero when it contains none).
type Loader func(ctx context.Context) ([]byte, model.MessageID, error)

type event struct {
	kind    kind
	payload []byte
	id      model.MessageID
	target  model.Channel
	load    Loader
}

// Engine fans payloads out to every registered channel. Broadcast calls only
// queue work; Run performs the fan-out one event at a time so each channel
// sees events in the order they were queued.
type Engine struct {
	registry    Registry
	renderer    Renderer
	sendTimeout time.Duration

	mu    sync.Mutex
	queue []event
	wake  chan struct{}

	// newest message id already shown to a channel by its welcome view;
	// only touched by the dispatcher
	seen map[model.Channel]model.MessageID
}

func New(registry Registry, renderer Renderer, sendTimeout time.Duration) *Engine {
	return &Engine{
		registry:    registry,
		renderer:    renderer,
		sendTimeout: sendTimeout,
		wake:        make(chan struct{}, 1),
		seen:        make(map[model.Channel]model.MessageID),
	}
}

// BroadcastMessage renders message once and queues it for every live channel.
func (e *Engine) BroadcastMessage(message model.Message) {
	payload, err := e.renderer.Message(message)
	if err != nil {
		log.Errorf("rendering message %d: %+v", message.ID, err)
		return
	}
	e.enqueue(event{kind: kindMessage, payload: payload, id: message.ID})
}

// BroadcastPresence queues a presence update. The count is read when the
// update is dispatched, not when it is queued.
func (e *Engine) BroadcastPresence() {
	e.enqueue(event{kind: kindPresence})
}

// Welcome queues the initial view for a single channel. The view is loaded
// when the event is dispatched, and later message broadcasts it already
// contains are not repeated to that channel.
func (e *Engine) Welcome(ch model.Channel, load Loader) {
	e.enqueue(event{kind: kindWelcome, target: ch, load: load})
}

func (e *Engine) enqueue(ev event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) dequeue() (event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return event{}, false
	}
	ev := e.queue[0]
	e.queue[0] = event{}
	e.queue = e.queue[1:]
	return ev, true
}

func (e *Engine) Run(ctx context.Context) {
	log.Infof("broadcast engine started")
	for {
		select {
		case <-ctx.Done():
			log.Infof("broadcast engine stopped")
			return
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

func (e *Engine) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ev, ok := e.dequeue()
		if !ok {
			return
		}
		e.dispatch(ctx, ev)
	}
}

func (e *Engine) dispatch(ctx context.Context, ev event) {
	var skip func(ch model.Channel) bool
	payload := ev.payload

	switch ev.kind {
	case kindWelcome:
		e.welcome(ctx, ev)
		return
	case kindPresence:
		e.forget()
		var err error
		payload, err = e.renderer.Presence(e.registry.Count())
		if err != nil {
			log.Errorf("rendering presence: %+v", err)
			return
		}
	case kindMessage:
		skip = func(ch model.Channel) bool {
			newest, ok := e.seen[ch]
			return ok && ev.id <= newest
		}
	}

	metrics.Broadcasts.WithLabelValues(ev.kind.String()).Inc()
	result := e.fanout(ctx, payload, skip)
	log.Debugf("%s broadcast delivered to %d/%d channels in %s", ev.kind, result.Delivered(), len(result.Deliveries), result.Duration)

	e.evict(result.Failed())
}

func (e *Engine) welcome(ctx context.Context, ev event) {
	if !e.registry.Contains(ev.target) {
		return
	}

	payload, newest, err := ev.load(ctx)
	if err != nil {
		log.Warnf("loading initial view: %+v", err)
		return
	}

	metrics.Broadcasts.WithLabelValues(ev.kind.String()).Inc()
	delivery := Deliver(ctx, ev.target, payload, e.sendTimeout)
	metrics.Deliveries.WithLabelValues(delivery.Outcome.String()).Inc()
	if !delivery.OK() {
		log.Debugf("welcome failed (%s): %v", delivery.Outcome, delivery.Err)
		e.evict([]model.Channel{ev.target})
		return
	}
	if newest > 0 {
		e.seen[ev.target] = newest
	}
}

// forget drops the welcome marks of channels that have left.
func (e *Engine) forget() {
	for ch := range e.seen {
		if !e.registry.Contains(ch) {
			delete(e.seen, ch)
		}
	}
}

// Fanout sends payload to a snapshot of the registry, one goroutine per
// channel, and waits for every attempt to finish or time out.
func (e *Engine) Fanout(ctx context.Context, payload []byte) Result {
	return e.fanout(ctx, payload, nil)
}

func (e *Engine) fanout(ctx context.Context, payload []byte, skip func(ch model.Channel) bool) Result {
	start := time.Now()
	channels := e.registry.Snapshot()
	if skip != nil {
		channels = lo.Reject(channels, func(ch model.Channel, _ int) bool {
			return skip(ch)
		})
	}

	results := make(chan Delivery, len(channels))
	for _, ch := range channels {
		go func(ch model.Channel) {
			results <- Deliver(ctx, ch, payload, e.sendTimeout)
		}(ch)
	}

	deliveries := make([]Delivery, 0, len(channels))
	for range channels {
		delivery := <-results
		metrics.Deliveries.WithLabelValues(delivery.Outcome.String()).Inc()
		if !delivery.OK() {
			log.Debugf("delivery failed (%s): %v", delivery.Outcome, delivery.Err)
		}
		deliveries = append(deliveries, delivery)
	}

	duration := time.Since(start)
	metrics.FanoutDuration.Observe(duration.Seconds())
	return Result{Deliveries: deliveries, Duration: duration}
}

// evict removes failed channels from the registry and closes the ones that
// can be closed, which ends their sessions.
func (e *Engine) evict(failed []model.Channel) {
	if len(failed) == 0 {
		return
	}

	removed := e.registry.RemoveAll(failed)
	for _, ch := range failed {
		if closer, ok := ch.(io.Closer); ok {
			go func(closer io.Closer) {
				if err := closer.Close(); err != nil {
					log.Debugf("closing evicted channel: %v", err)
				}
			}(closer)
		}
	}

	if removed == 0 {
		return
	}

	metrics.Evictions.Add(float64(removed))
	log.Infof("evicted %d channel(s) after failed delivery", removed)
	e.BroadcastPresence()
}
