package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw  string
		want Address
	}{
		{"ws://localhost:4984/db", Address{Scheme: "ws", Host: "localhost", Port: 4984, Path: "/db"}},
		{"WSS://Example.com/a/b", Address{Scheme: "wss", Host: "Example.com", Path: "/a/b"}},
		{"ws://host", Address{Scheme: "ws", Host: "host", Path: "/"}},
		{"ws://[::1]:4984/db", Address{Scheme: "ws", Host: "::1", Port: 4984, Path: "/db"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAddress(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddressRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"localhost:4984",
		"ws:///db",
		"ws://user:pw@host/db",
		"ws://host/db?x=1",
		"ws://host:0/db",
		"ws://host:70000/db",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseAddress(raw)
			assert.Error(t, err)
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	for _, raw := range []string{
		"ws://localhost:4984/db",
		"wss://example.com/",
		"ws://[::1]:4984/db",
		"ws://[fe80::1]/x/y",
	} {
		addr, err := ParseAddress(raw)
		require.NoError(t, err)
		again, err := ParseAddress(RenderAddress(addr))
		require.NoError(t, err)
		assert.Equal(t, addr, again, raw)
	}
}

func TestRenderAddressBracketsIPv6(t *testing.T) {
	assert.Equal(t, "ws://[::1]/db", RenderAddress(Address{Scheme: "ws", Host: "::1", Path: "/db"}))
	assert.Equal(t, "ws://[::1]:80/db", RenderAddress(Address{Scheme: "ws", Host: "::1", Port: 80, Path: "/db"}))
}

func TestDatabaseName(t *testing.T) {
	addr, err := ParseAddress("ws://host/prefix/travel-sample/")
	require.NoError(t, err)
	assert.Equal(t, "travel-sample", addr.DatabaseName())
}
