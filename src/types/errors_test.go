package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		domain ErrorDomain
		code   int
	}{
		{"nil", nil, DomainNone, 0},
		{"transport", &TransportError{Domain: DomainWebSocket, Code: 403}, DomainWebSocket, 403},
		{"wrapped errno", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), DomainPOSIX, int(syscall.ECONNREFUSED)},
		{"unknown host", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, DomainNetwork, NetErrUnknownHost},
		{"deadline", context.DeadlineExceeded, DomainNetwork, NetErrTimeout},
		{"other", errors.New("boom"), DomainNetwork, NetErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain, code := ErrorCodes(tt.err)
			assert.Equal(t, tt.domain, domain)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestReplicationErrorUnwraps(t *testing.T) {
	err := &ReplicationError{Op: "register", Err: fmt.Errorf("%w: 10 of 10 in use", ErrTooManyReplications)}
	assert.ErrorIs(t, err, ErrTooManyReplications)
	assert.Contains(t, err.Error(), "register")
}

func TestStatusZeroValueIsStopped(t *testing.T) {
	var s Status
	assert.Equal(t, LevelStopped, s.Level)
	assert.True(t, s.Error.IsZero())
	assert.Equal(t, "stopped", s.Level.String())
}

func TestBodyEqual(t *testing.T) {
	assert.True(t, Body{"foo": "bar"}.Equal(Body{"foo": "bar"}))
	assert.False(t, Body{"foo": "bar"}.Equal(Body{"foo": "buz"}))
	assert.False(t, Body{}.Equal(nil))
	assert.True(t, Body(nil).Equal(nil))
}
