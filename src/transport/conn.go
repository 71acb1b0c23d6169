package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

var errConnClosed = errors.New("connection closed")

// frame is one queued outbound message or close request.
type frame struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// Conn is a websocket connection carrying whole engine messages.
type Conn struct {
	ID     string
	cfg    Config
	logger zerolog.Logger

	out  chan frame
	done chan struct{}

	mu        sync.Mutex
	sink      socket.EventSink
	ws        *websocket.Conn
	cancel    context.CancelFunc
	dialing   bool
	finished  bool
	local     bool
	requested bool
}

func newConn(cfg Config, logger zerolog.Logger) *Conn {
	id := uuid.New().String()
	queue := cfg.SendQueueSize
	if queue <= 0 {
		queue = DefaultConfig().SendQueueSize
	}
	return &Conn{
		ID:     id,
		cfg:    cfg,
		logger: logger.With().Str("conn_id", id).Logger(),
		out:    make(chan frame, queue),
		done:   make(chan struct{}),
	}
}

// NewAcceptedConn creates the connection for an inbound upgrade. It is
// bound to its sink by the bridge and attached to the socket by Serve.
func NewAcceptedConn(cfg Config, logger zerolog.Logger) *Conn {
	return newConn(cfg, logger.With().Str("component", "ws-transport").Logger())
}

// Bind implements socket.AcceptedConn.
func (c *Conn) Bind(sink socket.EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Send implements socket.Conn. It never blocks.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- frame{data: data}:
		return nil
	default:
		return &types.TransportError{
			Domain: types.DomainNetwork,
			Code:   types.NetErrSendQueue,
			Err:    errors.New("send queue full"),
		}
	}
}

// Close implements socket.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.local = true
	ws, cancel, dialing := c.ws, c.cancel, c.dialing
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		return ws.Close()
	}
	if !dialing {
		c.finish(nil)
	}
	return nil
}

// CloseWithStatus implements socket.Conn.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.mu.Lock()
	attached := c.ws != nil
	c.requested = true
	c.mu.Unlock()

	if !attached {
		return c.Close()
	}
	select {
	case <-c.done:
		return errConnClosed
	case c.out <- frame{close: true, code: code, reason: reason}:
		return nil
	default:
		return c.Close()
	}
}

// Serve attaches an upgraded socket and pumps it until it closes.
func (c *Conn) Serve(ws *websocket.Conn) {
	if !c.attach(ws) {
		_ = ws.Close()
		c.finish(nil)
		return
	}
	go c.writePump()
	c.readPump()
}

// Fail ends a connection whose upgrade never completed.
func (c *Conn) Fail(err error) {
	c.finish(err)
}

// ExpireUnattached fails the connection if no socket is attached within d.
func (c *Conn) ExpireUnattached(d time.Duration) {
	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		c.mu.Lock()
		attached := c.ws != nil
		c.mu.Unlock()
		if !attached {
			c.finish(&types.TransportError{
				Domain: types.DomainNetwork,
				Code:   types.NetErrTimeout,
				Err:    errors.New("upgrade not completed"),
			})
		}
	})
}

// Done is closed once the connection has finished.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished || c.local {
		return false
	}
	c.ws = ws
	c.dialing = false
	return true
}

func (c *Conn) dial(ctx context.Context, d *websocket.Dialer, url string, header http.Header) {
	ws, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			err = &types.TransportError{Domain: types.DomainWebSocket, Code: resp.StatusCode, Err: err}
		}
		c.finish(err)
		return
	}
	if !c.attach(ws) {
		_ = ws.Close()
		c.finish(nil)
		return
	}

	c.logger.Debug().Str("url", url).Msg("connected")
	c.currentSink().Opened()
	go c.writePump()
	c.readPump()
}

func (c *Conn) currentSink() socket.EventSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// readPump delivers inbound messages to the sink.
func (c *Conn) readPump() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		c.currentSink().Message(data)
	}
}

// writePump writes queued frames and pings to the socket.
func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case f := <-c.out:
			_ = c.ws.SetWriteDeadline(c.writeDeadline())
			if f.close {
				msg := websocket.FormatCloseMessage(f.code, f.reason)
				if err := c.ws.WriteMessage(websocket.CloseMessage, msg); err != nil {
					c.finish(err)
					return
				}
				if c.cfg.CloseTimeout > 0 {
					_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.CloseTimeout))
				}
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
				c.finish(err)
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, c.writeDeadline()); err != nil {
				c.finish(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeDeadline() time.Time {
	if c.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.WriteTimeout)
}

// finish reports the end of the connection exactly once.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	ws, sink, cancel := c.ws, c.sink, c.cancel
	local, requested := c.local, c.requested
	c.mu.Unlock()

	close(c.done)
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close()
	}
	if sink == nil {
		return
	}

	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		if requested {
			sink.Closed(websocket.CloseNormalClosure, ce.Text)
		} else {
			sink.Closed(ce.Code, ce.Text)
		}
	case err == nil || local:
		sink.Closed(websocket.CloseNormalClosure, "")
	default:
		c.logger.Debug().Err(err).Msg("connection failed")
		sink.Failed(err)
	}
}
