package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestIsConnectivityError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("get: %w", nats.ErrNoServers), true},
		{"closed", nats.ErrConnectionClosed, true},
		{"refused text", errors.New("dial tcp: connection refused"), true},
		{"key not found", jetstream.ErrKeyNotFound, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsConnectivityError(tc.err))
		})
	}
}

func TestIsWrongLastSequence(t *testing.T) {
	apiErr := &jetstream.APIError{
		Code:        400,
		ErrorCode:   jetstream.JSErrCodeStreamWrongLastSequence,
		Description: "wrong last sequence: 4",
	}

	require.True(t, IsWrongLastSequence(apiErr))
	require.True(t, IsWrongLastSequence(fmt.Errorf("update: %w", apiErr)))
	require.False(t, IsWrongLastSequence(jetstream.ErrKeyNotFound))
	require.False(t, IsWrongLastSequence(nil))
}
