// Package feed is the client side of the signal feed: a websocket
// subscription that delivers trade signals one message at a time.
//
// There is no resume: after any failure the caller dials again, which
// sends the subscription anew.
package feed

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

const (
	wsPath       = "/api/v1/message/ws"
	pingWait     = 10 * time.Second
	closeTimeout = time.Second
)

// StateObserver is notified about every connection state change.
type StateObserver func(domain.ConnectionState)

type subscribeMessage struct {
	Type string              `json:"type"`
	Data []domain.SignalKind `json:"data"`
}

// SubscribeMessage returns the payload sent right after every dial.
func SubscribeMessage() []byte {
	b, _ := json.Marshal(subscribeMessage{Type: "subscribe", Data: domain.SubscribedKinds})
	return b
}

// URI builds the feed address: scheme://host:port/api/v1/message/ws?token=<token>.
// The scheme defaults to ws.
func URI(endpoint, token string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "ws://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse feed endpoint %s", endpoint)
	}
	if u.Host == "" {
		return "", errors.Errorf("feed endpoint %s has no host", endpoint)
	}

	u.Path = wsPath
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String(), nil
}

type options struct {
	keepAlive time.Duration
	dialer    *websocket.Dialer
	observer  StateObserver
	logger    *zap.Logger
}

type Option func(*options)

// WithKeepAlive enables pings at the given interval. A pong must arrive
// within two intervals, otherwise Receive fails.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *options) { o.keepAlive = interval }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithStateObserver(fn StateObserver) Option {
	return func(o *options) { o.observer = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Conn is one live subscription.
type Conn struct {
	endpoint string
	ws       *websocket.Conn
	opts     options

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	streaming bool
}

// Dial connects to the feed and subscribes. Any failure is a *domain.ConnectError.
func Dial(ctx context.Context, endpoint, token string, opts ...Option) (*Conn, error) {
	o := options{dialer: websocket.DefaultDialer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{endpoint: endpoint, opts: o, done: make(chan struct{})}
	c.observe(domain.StateConnecting)

	uri, err := URI(endpoint, token)
	if err != nil {
		c.observe(domain.StateDisconnected)
		return nil, &domain.ConnectError{Endpoint: endpoint, Err: err}
	}

	ws, resp, err := o.dialer.DialContext(ctx, uri, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.observe(domain.StateDisconnected)
		return nil, &domain.ConnectError{Endpoint: endpoint, Err: errors.Wrap(err, "dial")}
	}
	c.ws = ws

	if err := c.write(websocket.TextMessage, SubscribeMessage()); err != nil {
		_ = ws.Close()
		c.observe(domain.StateDisconnected)
		return nil, &domain.ConnectError{Endpoint: endpoint, Err: errors.Wrap(err, "send subscription")}
	}
	c.observe(domain.StateSubscribed)

	if o.keepAlive > 0 {
		pongWait := 2 * o.keepAlive
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.heartbeat()
	}

	return c, nil
}

// Receive blocks until the next signal arrives. Transport failures and
// undecodable messages are *domain.StreamError; cancellation returns ctx.Err().
func (c *Conn) Receive(ctx context.Context) (domain.SignalEvent, error) {
	// a blocked read is only interrupted by closing the socket
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return domain.SignalEvent{}, ctx.Err()
		}
		return domain.SignalEvent{}, &domain.StreamError{Endpoint: c.endpoint, Err: err}
	}

	if !c.streaming {
		c.streaming = true
		c.observe(domain.StateStreaming)
	}

	event, err := domain.DecodeSignal(msg, time.Now().UTC())
	if err != nil {
		return domain.SignalEvent{}, &domain.StreamError{Endpoint: c.endpoint, Err: err}
	}
	return event, nil
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		c.wmu.Unlock()
		err = c.ws.Close()
		c.observe(domain.StateDisconnected)
	})
	return err
}

func (c *Conn) heartbeat() {
	ticker := time.NewTicker(c.opts.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWait))
			c.wmu.Unlock()
			if err != nil {
				// close to unblock the reader, it reports the failure
				c.opts.logger.Warn("feed ping failed", zap.String("endpoint", c.endpoint), zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) observe(s domain.ConnectionState) {
	if c.opts.observer != nil {
		c.opts.observer(s)
	}
}
