package apperrors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConnectionLost means the physical connection could not be established
	// or a liveness probe failed.
	ErrConnectionLost = errors.New("connection to redis server is lost or not responding")

	// ErrLocalIntegrity means a Gateway's local context could not be reconciled
	// with the remote connection state at construction time.
	ErrLocalIntegrity = errors.New("unexpected event occurred while syncing local context with the remote connection")

	// ErrUnexpected signals "investigate", not "retry".
	ErrUnexpected = errors.New("unexpected event occurred")

	// ErrLogic is a violated precondition: bad caller input or an inconsistent
	// server-reported connection list.
	ErrLogic = errors.New("logic error")
)

// connectivityPatterns are lowercase fragments of driver error messages that
// indicate the socket itself is unusable.
var connectivityPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"use of closed network connection",
	"client is closed",
	"connection pool timeout",
	"not connected",
}

// IsConnectivity reports whether err means the connection cannot be trusted
// anymore, as opposed to a command-level failure.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range connectivityPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
