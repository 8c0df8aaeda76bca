// Package sdnotify implements the systemd service-manager readiness
// handshake (spec.md §4.6's "signal READY=1 once the first mount's
// worker grid is up") directly against the NOTIFY_SOCKET datagram
// protocol. No dependency in the retrieved example corpus wraps this
// narrow, rarely-changing protocol, so it is hand-written here rather
// than pulled in from the ecosystem (see DESIGN.md).
package sdnotify

import (
	"fmt"
	"net"
	"os"
)

// Notify sends state (e.g. "READY=1", "STOPPING=1", "STATUS=...") to
// the socket named by $NOTIFY_SOCKET. It is a silent no-op when that
// variable is unset, which is the common case outside of a systemd
// unit and must never be treated as an error.
func Notify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	raddr := &net.UnixAddr{Name: addr, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, raddr)
	if err != nil {
		return fmt.Errorf("sdnotify: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("sdnotify: write: %w", err)
	}
	return nil
}

// Ready is a convenience wrapper for the common startup signal.
func Ready() error { return Notify("READY=1") }

// Stopping is a convenience wrapper for the shutdown signal.
func Stopping() error { return Notify("STOPPING=1") }

// Status reports a human-readable one-line status string, surfaced by
// `systemctl status`.
func Status(msg string) error { return Notify("STATUS=" + msg) }
