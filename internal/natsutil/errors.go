// Package natsutil classifies NATS client errors.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// IsConnectivityError checks if an error is caused by connectivity issues:
// timeouts, refused connections, disconnections or a missing JetStream response.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in the types package.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, jetstream.ErrNoHeartbeat) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsWrongLastSequence reports whether err is a KV compare-and-set rejection.
//
// kv.Update and kv.Create report a stale revision as a JetStream API error with
// code JSErrCodeStreamWrongLastSequence.
func IsWrongLastSequence(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}

	return strings.Contains(err.Error(), "wrong last sequence")
}
