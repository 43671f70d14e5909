package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"uk.co.dudmesh.chatroom/internal/model"
)

type Outcome int

const (
	Delivered Outcome = iota
	TimedOut
	Closed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	default:
		return "failed"
	}
}

// Delivery is the result of one send attempt on one channel.
type Delivery struct {
	Channel model.Channel
	Outcome Outcome
	Err     error
}

func (d Delivery) OK() bool {
	return d.Outcome == Delivered
}

type Result struct {
	Deliveries []Delivery
	Duration   time.Duration
}

func (r Result) Failed() []model.Channel {
	return lo.FilterMap(r.Deliveries, func(d Delivery, _ int) (model.Channel, bool) {
		return d.Channel, !d.OK()
	})
}

func (r Result) Delivered() int {
	return lo.CountBy(r.Deliveries, func(d Delivery) bool {
		return d.OK()
	})
}

// Deliver sends payload on ch and gives up after timeout, even if the
// channel ignores its context.
func Deliver(ctx context.Context, ch model.Channel, payload []byte, timeout time.Duration) Delivery {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ch.Send(ctx, payload)
	}()

	select {
	case err := <-done:
		return Delivery{Channel: ch, Outcome: classify(err), Err: err}
	case <-ctx.Done():
		return Delivery{Channel: ch, Outcome: TimedOut, Err: ctx.Err()}
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, model.ErrorChannelClosed):
		return Closed
	default:
		return Failed
	}
}
