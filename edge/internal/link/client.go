// Package link maintains the edge node's persistent agent link streams to
// the logic tier: one client per configured target, each with its own
// reconnect loop, heartbeats, and inbound command dispatch.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqui-im/loqui/pkg/protocol"
)

// CommandSink receives the commands read off a link.
type CommandSink interface {
	Dispatch(cmd protocol.Command)
}

// Options configures link clients.
type Options struct {
	Name              string // edge node name announced in link.hello
	HostName          string
	BackoffMin        time.Duration // first reconnect delay; default 1s
	BackoffMax        time.Duration // backoff cap; default 30s
	HeartbeatInterval time.Duration // ping cadence; default 25s
}

func (o *Options) defaults() {
	if o.BackoffMin == 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
}

// readWait bounds how long a link may stay silent: three missed heartbeat
// rounds and the connection is torn down for the reconnect loop to replace.
func (o Options) readWait() time.Duration { return 3 * o.HeartbeatInterval }

const (
	handshakeTimeout = 10 * time.Second
	controlTimeout   = 10 * time.Second
)

// Client maintains one agent link to one logic-tier target.
type Client struct {
	target string
	opts   Options
	sink   CommandSink
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a link client for a single target URL.
func NewClient(target string, opts Options, sink CommandSink, logger *slog.Logger) *Client {
	opts.defaults()
	return &Client{
		target: target,
		opts:   opts,
		sink:   sink,
		logger: logger.With("component", "link-client", "target", target),
	}
}

// Run dials the target and processes commands until ctx is canceled,
// reconnecting with bounded exponential backoff after each loss. The delay
// doubles from BackoffMin up to BackoffMax and resets once a connection is
// established.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected, err := c.connectOnce(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("link lost", "error", err)
		}
		if connected {
			delay = c.opts.BackoffMin
		}

		c.logger.Info("reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.BackoffMax {
			delay = c.opts.BackoffMax
		}
	}
}

// connectOnce reports whether the handshake completed, so the caller knows
// whether to reset the backoff.
func (c *Client) connectOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.target, nil)
	if err != nil {
		return false, fmt.Errorf("dial link: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	hello, err := protocol.NewFrame(protocol.TypeLinkHello, protocol.LinkHello{
		Name:     c.opts.Name,
		HostName: c.opts.HostName,
	})
	if err != nil {
		return false, err
	}
	if err := c.writeFrame(hello); err != nil {
		return false, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	ack, err := c.readFrame(conn)
	if err != nil {
		return false, fmt.Errorf("read hello ack: %w", err)
	}
	if ack.Type != protocol.TypeHelloAck {
		return false, fmt.Errorf("expected hello.ack, got %s", ack.Type)
	}
	var payload protocol.HelloAck
	if err := json.Unmarshal(ack.Payload, &payload); err != nil {
		return false, fmt.Errorf("unmarshal hello ack: %w", err)
	}
	if !payload.OK {
		return false, fmt.Errorf("link rejected: %s", payload.Error)
	}

	c.logger.Info("link established")

	// Without a read deadline a partitioned link blocks the read loop until
	// TCP gives up; refresh it on every frame and on the hub's keepalive
	// pings so a silent connection fails within readWait.
	readWait := c.opts.readWait()
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlTimeout))
	})

	stopHeartbeat := c.startHeartbeat(ctx)
	defer stopHeartbeat()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return true, ctx.Err()
		default:
		}

		frame, err := c.readFrame(conn)
		if err != nil {
			return true, fmt.Errorf("read frame: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if frame.Type == protocol.TypePong {
			continue
		}

		cmd, err := protocol.ParseCommand(frame)
		if err != nil {
			c.logger.Warn("invalid command frame", "type", frame.Type, "error", err)
			continue
		}
		c.sink.Dispatch(cmd)
	}
}

func (c *Client) readFrame(conn *websocket.Conn) (protocol.Frame, error) {
	var frame protocol.Frame
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return frame, fmt.Errorf("unmarshal frame: %w", err)
	}
	return frame, nil
}

func (c *Client) writeFrame(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) startHeartbeat(ctx context.Context) (cancel func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				frame, err := protocol.NewFrame(protocol.TypePing, nil)
				if err != nil {
					return
				}
				if err := c.writeFrame(frame); err != nil {
					// Unblock the read loop so Run reconnects instead of
					// sitting on a half-dead connection.
					c.closeConn()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
