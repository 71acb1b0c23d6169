package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
)

// Dialer opens outbound websocket connections for the socket bridge.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// DialerOption customizes a Dialer.
type DialerOption func(*websocket.Dialer)

// WithNetDial replaces the function used to open the underlying connection.
func WithNetDial(dial func(network, addr string) (net.Conn, error)) DialerOption {
	return func(d *websocket.Dialer) {
		d.NetDialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}
	}
}

// NewDialer creates a transport for initiator sessions.
func NewDialer(cfg Config, logger zerolog.Logger, opts ...DialerOption) *Dialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return &Dialer{
		cfg:    cfg,
		dialer: d,
		logger: logger.With().Str("component", "ws-transport").Logger(),
	}
}

// Open implements socket.Transport. The handshake runs on its own goroutine.
func (d *Dialer) Open(addr types.Address, options []byte, sink socket.EventSink) (socket.Conn, error) {
	if addr.Scheme != "ws" && addr.Scheme != "wss" {
		return nil, &types.TransportError{
			Domain: types.DomainNetwork,
			Code:   types.NetErrInvalidURL,
			Err:    fmt.Errorf("unsupported scheme %q", addr.Scheme),
		}
	}
	header, err := parseOptions(options)
	if err != nil {
		return nil, &types.TransportError{Domain: types.DomainNetwork, Code: types.NetErrInvalidURL, Err: err}
	}

	c := newConn(d.cfg, d.logger)
	ctx, cancel := context.WithCancel(context.Background())
	c.sink = sink
	c.cancel = cancel
	c.dialing = true

	go c.dial(ctx, d.dialer, addr.String(), header)
	return c, nil
}

// socketOptions is the JSON form of the options passed to Open.
type socketOptions struct {
	Headers map[string]string `json:"headers"`
}

func parseOptions(options []byte) (http.Header, error) {
	if len(options) == 0 {
		return nil, nil
	}
	var opts socketOptions
	if err := json.Unmarshal(options, &opts); err != nil {
		return nil, fmt.Errorf("decode socket options: %w", err)
	}
	if len(opts.Headers) == 0 {
		return nil, nil
	}
	header := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		header.Set(k, v)
	}
	return header, nil
}
