package ipc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DialTimeout bounds the initial connection attempt.
const DialTimeout = 5 * time.Second

// Client-side errors.
var (
	ErrNotConnected = fmt.Errorf("not connected to daemon")
)

// DaemonClient is a synchronous client for the daemon's control
// socket. One request gets one response; calls are serialized, so a
// single client is safe for concurrent use but slow callers block
// each other.
type DaemonClient struct {
	mu         sync.Mutex
	conn       net.Conn
	socketPath string
	timeout    time.Duration

	nextRequestID atomic.Uint32
}

// ClientConfig configures the daemon client.
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration // per-request, defaults to 10s
}

// NewClient creates a client. It does not connect; call Connect.
func NewClient(cfg ClientConfig) *DaemonClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DaemonClient{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
	}
}

// Connect establishes the connection to the daemon.
func (c *DaemonClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := dial(c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	return nil
}

// Close closes the connection.
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call sends a request and waits for its response. Unsolicited pings
// from the server's keepalive are skipped.
func (c *DaemonClient) call(msgType MessageType, req any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	var payload []byte
	if req != nil {
		var err error
		payload, err = Encode(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	requestID := c.nextRequestID.Add(1)
	msg := NewMessage(msgType, requestID, payload)

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := msg.Write(c.conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		resp, err := ReadMessage(c.conn)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.Header.Type == MsgPing {
			continue
		}
		if resp.Header.RequestID != requestID {
			continue
		}

		if resp.Header.Type == MsgError {
			var errResp ErrorResponse
			if err := Decode(resp.Payload, &errResp); err != nil {
				return nil, fmt.Errorf("daemon error (undecodable)")
			}
			return nil, fmt.Errorf("daemon error: %s", errResp.Message)
		}

		return resp, nil
	}
}

// Ping checks the daemon is alive.
func (c *DaemonClient) Ping() error {
	resp, err := c.call(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status retrieves daemon status.
func (c *DaemonClient) Status() (*StatusResponse, error) {
	resp, err := c.call(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// Pause stops expansion without stopping the daemon.
func (c *DaemonClient) Pause() (*PauseResponse, error) {
	resp, err := c.call(MsgPause, nil)
	if err != nil {
		return nil, err
	}
	var pr PauseResponse
	if err := Decode(resp.Payload, &pr); err != nil {
		return nil, fmt.Errorf("decode pause response: %w", err)
	}
	return &pr, nil
}

// Resume restarts expansion after a pause.
func (c *DaemonClient) Resume() (*PauseResponse, error) {
	resp, err := c.call(MsgResume, nil)
	if err != nil {
		return nil, err
	}
	var pr PauseResponse
	if err := Decode(resp.Payload, &pr); err != nil {
		return nil, fmt.Errorf("decode resume response: %w", err)
	}
	return &pr, nil
}

// ReloadLibrary forces an immediate snapshot rebuild.
func (c *DaemonClient) ReloadLibrary() (*ReloadLibraryResponse, error) {
	resp, err := c.call(MsgReloadLibrary, nil)
	if err != nil {
		return nil, err
	}
	var rr ReloadLibraryResponse
	if err := Decode(resp.Payload, &rr); err != nil {
		return nil, fmt.Errorf("decode reload response: %w", err)
	}
	return &rr, nil
}

// ListSnippets lists snippet metadata, optionally filtered by category.
func (c *DaemonClient) ListSnippets(category string) (*ListSnippetsResponse, error) {
	resp, err := c.call(MsgListSnippets, &ListSnippetsRequest{Category: category})
	if err != nil {
		return nil, err
	}
	var lr ListSnippetsResponse
	if err := Decode(resp.Payload, &lr); err != nil {
		return nil, fmt.Errorf("decode snippet list: %w", err)
	}
	return &lr, nil
}

// UsageStats retrieves expansion counts. sinceHours of 0 means all time.
func (c *DaemonClient) UsageStats(sinceHours int) (*UsageStatsResponse, error) {
	resp, err := c.call(MsgUsageStats, &UsageStatsRequest{SinceHours: sinceHours})
	if err != nil {
		return nil, err
	}
	var ur UsageStatsResponse
	if err := Decode(resp.Payload, &ur); err != nil {
		return nil, fmt.Errorf("decode usage stats: %w", err)
	}
	return &ur, nil
}

// ExpandPreview resolves a command's content without injecting it.
func (c *DaemonClient) ExpandPreview(command string) (*ExpandPreviewResponse, error) {
	resp, err := c.call(MsgExpandPreview, &ExpandPreviewRequest{Command: command})
	if err != nil {
		return nil, err
	}
	var er ExpandPreviewResponse
	if err := Decode(resp.Payload, &er); err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}
	return &er, nil
}

// Shutdown asks the daemon to exit.
func (c *DaemonClient) Shutdown() error {
	resp, err := c.call(MsgShutdown, nil)
	if err != nil {
		return err
	}
	var sr ShutdownResponse
	if err := Decode(resp.Payload, &sr); err != nil {
		return fmt.Errorf("decode shutdown response: %w", err)
	}
	if !sr.Stopping {
		return fmt.Errorf("daemon declined shutdown")
	}
	return nil
}
