package transport

import "time"

// Config holds websocket transport settings.
type Config struct {
	ReadBufferSize   int
	WriteBufferSize  int
	SendQueueSize    int
	PingInterval     time.Duration // 0 disables pings
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration // how long to wait for the peer to acknowledge a close
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendQueueSize:    256,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		CloseTimeout:     5 * time.Second,
	}
}
