//go:build windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"
)

// Named pipe constants
const (
	PIPE_ACCESS_DUPLEX       = 0x00000003
	PIPE_TYPE_MESSAGE        = 0x00000004
	PIPE_READMODE_MESSAGE    = 0x00000002
	PIPE_WAIT                = 0x00000000
	PIPE_UNLIMITED_INSTANCES = 255

	pipeBufferSize = 64 * 1024
)

var (
	kernel32                = syscall.NewLazyDLL("kernel32.dll")
	procCreateNamedPipeW    = kernel32.NewProc("CreateNamedPipeW")
	procConnectNamedPipe    = kernel32.NewProc("ConnectNamedPipe")
	procDisconnectNamedPipe = kernel32.NewProc("DisconnectNamedPipe")
)

// PeerCredentials holds the credentials of a peer process. UID/GID are
// not meaningful on Windows; the pipe DACL is the access control.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// listen creates a named pipe listener.
func listen(path string) (net.Listener, error) {
	return &pipeListener{pipeName: WindowsPipePath(path)}, nil
}

// dial connects to the daemon's named pipe.
func dial(path string) (net.Conn, error) {
	pipeName := WindowsPipePath(path)
	handle, err := syscall.CreateFile(
		syscall.StringToUTF16Ptr(pipeName),
		syscall.GENERIC_READ|syscall.GENERIC_WRITE,
		0,
		nil,
		syscall.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("open pipe: %w", err)
	}
	return &pipeConn{handle: handle, pipeName: pipeName}, nil
}

// verifyPeer is a no-op on Windows. The pipe is created with the
// default security descriptor, which grants access to the creating
// user only.
func verifyPeer(conn net.Conn) error {
	return nil
}

// SetSocketPermissions is a no-op on Windows (security set at pipe creation).
func SetSocketPermissions(path string) error {
	return nil
}

// CleanupSocket is a no-op on Windows (named pipes are managed by the system).
func CleanupSocket(path string) error {
	return nil
}

// IsSocketListening checks if a named pipe is already listening.
func IsSocketListening(path string) bool {
	conn, err := dial(path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WindowsPipePath converts a socket path to a Windows named pipe path.
func WindowsPipePath(socketPath string) string {
	baseName := filepath.Base(socketPath)
	username := os.Getenv("USERNAME")
	if username == "" {
		username = "default"
	}
	return fmt.Sprintf(`\\.\pipe\snipd-%s-%s`, username, baseName)
}

func createNamedPipe(name string) (syscall.Handle, error) {
	pipeName, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return syscall.InvalidHandle, err
	}

	// Message mode keeps frames atomic
	handle, _, err := procCreateNamedPipeW.Call(
		uintptr(unsafe.Pointer(pipeName)),
		PIPE_ACCESS_DUPLEX,
		PIPE_TYPE_MESSAGE|PIPE_READMODE_MESSAGE|PIPE_WAIT,
		PIPE_UNLIMITED_INSTANCES,
		pipeBufferSize,
		pipeBufferSize,
		0,
		0, // Default security (current user)
	)

	if handle == uintptr(syscall.InvalidHandle) {
		return syscall.InvalidHandle, err
	}

	return syscall.Handle(handle), nil
}

func connectNamedPipe(handle syscall.Handle) error {
	r, _, err := procConnectNamedPipe.Call(uintptr(handle), 0)
	if r == 0 {
		errno, ok := err.(syscall.Errno)
		if ok && errno == 535 { // ERROR_PIPE_CONNECTED
			return nil
		}
		return err
	}
	return nil
}

func disconnectNamedPipe(handle syscall.Handle) error {
	r, _, err := procDisconnectNamedPipe.Call(uintptr(handle))
	if r == 0 {
		return err
	}
	return nil
}

// pipeListener implements net.Listener over Windows named pipes.
type pipeListener struct {
	pipeName string
	closed   bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	if l.closed {
		return nil, net.ErrClosed
	}

	handle, err := createNamedPipe(l.pipeName)
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	if err := connectNamedPipe(handle); err != nil {
		syscall.CloseHandle(handle)
		return nil, fmt.Errorf("connect pipe: %w", err)
	}

	return &pipeConn{handle: handle, pipeName: l.pipeName}, nil
}

func (l *pipeListener) Close() error {
	l.closed = true
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return &pipeAddr{name: l.pipeName}
}

// pipeConn implements net.Conn over a named pipe handle.
type pipeConn struct {
	handle   syscall.Handle
	pipeName string
}

func (c *pipeConn) Read(b []byte) (int, error) {
	var n uint32
	err := syscall.ReadFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Write(b []byte) (int, error) {
	var n uint32
	err := syscall.WriteFile(c.handle, b, &n, nil)
	return int(n), err
}

func (c *pipeConn) Close() error {
	disconnectNamedPipe(c.handle)
	return syscall.CloseHandle(c.handle)
}

func (c *pipeConn) LocalAddr() net.Addr {
	return &pipeAddr{name: c.pipeName}
}

func (c *pipeConn) RemoteAddr() net.Addr {
	return &pipeAddr{name: c.pipeName}
}

// Named pipes would need overlapped I/O for real deadlines; the framed
// protocol tolerates their absence.
func (c *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (c *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct {
	name string
}

func (a *pipeAddr) Network() string { return "pipe" }
func (a *pipeAddr) String() string  { return a.name }
