package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
	"uk.co.dudmesh.chatroom/internal/metrics"
	"uk.co.dudmesh.chatroom/internal/model"
)

type ConnOptions struct {
	WriteWait         time.Duration
	PongWait          time.Duration
	PingInterval      time.Duration
	MaxMessageSize    int64
	RateLimitBurst    int
	RateLimitInterval time.Duration
	QueueSize         int
}

func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingInterval:      54 * time.Second,
		MaxMessageSize:    4096,
		RateLimitBurst:    5,
		RateLimitInterval: time.Second,
		QueueSize:         256,
	}
}

// Conn is a model.Channel backed by a websocket. Sends are queued and written
// by a single writer goroutine, so payloads reach the client in Send order.
type Conn struct {
	ws      *websocket.Conn
	addr    string
	opts    ConnOptions
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func NewConn(ws *websocket.Conn, addr string, opts ConnOptions) *Conn {
	defaults := DefaultConnOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaults.RateLimitBurst
	}
	if opts.RateLimitInterval <= 0 {
		opts.RateLimitInterval = defaults.RateLimitInterval
	}

	return &Conn{
		ws:      ws,
		addr:    addr,
		opts:    opts,
		send:    make(chan []byte, opts.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(opts.RateLimitInterval/time.Duration(opts.RateLimitBurst)), opts.RateLimitBurst),
	}
}

func (c *Conn) Addr() string {
	return c.addr
}

// Send queues payload for writing. It fails with ErrorChannelClosed once the
// connection is gone, or with the context error if the queue stays full.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return model.ErrorChannelClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return model.ErrorChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !isExpectedCloseError(werr) {
			log.Debugf("writing close message to %s: %v", c.addr, werr)
		}
		err = c.ws.Close()
		if isExpectedCloseError(err) {
			err = nil
		}
	})
	return err
}

// Serve starts the write pump and reads until the connection ends, passing
// each inbound text to onText.
func (c *Conn) Serve(ctx context.Context, onText func(ctx context.Context, text string)) {
	go c.writePump()
	c.readPump(ctx, onText)
	c.Close()
}

func (c *Conn) readPump(ctx context.Context, onText func(ctx context.Context, text string)) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		log.Warnf("setting read deadline for %s: %v", c.addr, err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
			log.Warnf("rate limit exceeded for %s; discarding message", c.addr)
			continue
		}

		onText(ctx, ParseInbound(raw))
	}
}

func (c *Conn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warnf("message from %s exceeded %d bytes", c.addr, c.opts.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Infof("client %s disconnected", c.addr)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Infof("client %s connection closed: %v", c.addr, err)
	default:
		log.Warnf("websocket read error from %s: %v", c.addr, err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				log.Infof("writing to %s: %v", c.addr, err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Infof("pinging %s: %v", c.addr, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

type inbound struct {
	Message *string `json:"message"`
}

// ParseInbound extracts the message text from a frame. htmx sends form
// values as a JSON object; anything else is taken as plain text.
func ParseInbound(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var in inbound
		if err := json.Unmarshal(trimmed, &in); err == nil && in.Message != nil {
			return *in.Message
		}
	}
	return string(raw)
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
