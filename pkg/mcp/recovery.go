package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Deadlines for session lifecycle operations. Tool calls themselves carry no
// deadline at this level: the executor applies the configured per-call
// timeout via context before the call reaches the client.
const (
	// connectTimeout bounds transport startup plus the protocol handshake
	// when first connecting to a server.
	connectTimeout = 30 * time.Second

	// reconnectTimeout bounds session recreation after a lost transport.
	// Tighter than connectTimeout: the server was reachable moments ago.
	reconnectTimeout = 10 * time.Second

	// listToolsTimeout bounds one ListTools round trip during discovery.
	listToolsTimeout = 30 * time.Second

	// reconnectBackoffMin/Max bound the jittered pause before the single
	// re-issue of a call whose session died mid-flight.
	reconnectBackoffMin = 250 * time.Millisecond
	reconnectBackoffMax = 750 * time.Millisecond

	// healthPingInterval and healthPingTimeout drive the health monitor.
	healthPingInterval = 15 * time.Second
	healthPingTimeout  = 5 * time.Second
)

// sessionLost reports whether err means the transport under the session died,
// as opposed to the tool call itself failing. Only a dead session justifies
// reconnecting and re-issuing the call; every other failure is handed back to
// the conversation engine verbatim so the model can read it and adjust.
func sessionLost(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation and deadlines belong to the caller, not the transport.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// A network timeout may just be a slow tool; re-running it could double
	// a side effect. Only hard connection failures count as a lost session.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
