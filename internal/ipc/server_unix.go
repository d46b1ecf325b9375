//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
)

// PeerCredentials holds the credentials of a peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// listen creates the daemon's Unix socket listener.
func listen(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}

// dial connects to the daemon's Unix socket.
func dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

// SetSocketPermissions restricts the socket to its owner.
func SetSocketPermissions(path string) error {
	return os.Chmod(path, 0600)
}

// CleanupSocket removes a stale socket file.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Only remove if it's a socket
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}

	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening checks if a daemon is already listening on the socket.
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
