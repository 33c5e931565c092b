// Package sdnotify implements the client half of the systemd readiness
// notification protocol: a single datagram write to the unix socket named
// by $NOTIFY_SOCKET, carrying a newline-free ASCII string of KEY=VALUE
// pairs.
package sdnotify

import (
	"fmt"
	"net"
	"os"
)

// Notify sends state (e.g. "READY=1", "STOPPING=1") to the socket named by
// $NOTIFY_SOCKET, if set. It is best-effort: a missing environment variable
// is not an error, and any send failure is returned to the caller to log,
// never to treat as fatal.
func Notify(state string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("sdnotify: dial %q: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return fmt.Errorf("sdnotify: write: %w", err)
	}
	return nil
}
