package presence

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"uk.co.dudmesh.chatroom/internal/model"
)

// Registry is the set of live channels. A channel is live iff it is a member.
type Registry struct {
	mu       sync.RWMutex
	channels map[model.Channel]struct{}
	gauge    prometheus.Gauge
}

type Option func(*Registry)

// WithGauge keeps gauge set to the number of members.
func WithGauge(gauge prometheus.Gauge) Option {
	return func(r *Registry) {
		r.gauge = gauge
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		channels: make(map[model.Channel]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// report must be called with mu held.
func (r *Registry) report() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.channels)))
	}
}

func (r *Registry) Add(ch model.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[ch] = struct{}{}
	r.report()
}

// Remove reports whether ch was a member. Removing an absent channel is a no-op.
func (r *Registry) Remove(ch model.Channel) bool {
	return r.RemoveAll([]model.Channel{ch}) == 1
}

// RemoveAll removes every given channel in one step and returns how many
// were actually members.
func (r *Registry) RemoveAll(chs []model.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, ch := range lo.Uniq(chs) {
		if _, ok := r.channels[ch]; ok {
			delete(r.channels, ch)
			removed++
		}
	}
	if removed > 0 {
		r.report()
	}
	return removed
}

func (r *Registry) Snapshot() []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.channels)
}

func (r *Registry) Contains(ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.channels[ch]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels)
}
