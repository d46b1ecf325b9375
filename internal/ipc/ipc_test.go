package ipc

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipd/internal/engine"
	"snipd/internal/snippet"
	"snipd/internal/store"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Flags:     FlagJSON,
		Type:      MsgStatusRequest,
		RequestID: 42,
		Length:    128,
	}

	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	h := &Header{Magic: 0xDEADBEEF, Version: ProtocolVersion}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic")
}

func TestReadHeaderRejectsFutureVersion(t *testing.T) {
	h := &Header{Magic: ProtocolMagic, Version: ProtocolVersion + 1}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadHeader(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol version")
}

func TestMessageRoundTrip(t *testing.T) {
	payload, err := Encode(&ExpandPreviewRequest{Command: "/sig"})
	require.NoError(t, err)

	msg := NewMessage(MsgExpandPreview, 7, payload)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgExpandPreview, got.Header.Type)
	assert.Equal(t, uint32(7), got.Header.RequestID)

	var req ExpandPreviewRequest
	require.NoError(t, Decode(got.Payload, &req))
	assert.Equal(t, "/sig", req.Command)
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	h := &Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Length:  MaxPayloadSize + 1,
	}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage(9, ErrNotFound, "no such snippet")
	assert.Equal(t, MsgError, msg.Header.Type)

	var resp ErrorResponse
	require.NoError(t, Decode(msg.Payload, &resp))
	assert.Equal(t, ErrNotFound, resp.Code)
	assert.Equal(t, "no such snippet", resp.Message)
}

// fakeEngine implements EngineControl for handler tests.
type fakeEngine struct {
	paused   bool
	loaded   []snippet.Snippet
	previews map[string]string
}

func (f *fakeEngine) Pause()        { f.paused = true }
func (f *fakeEngine) Resume() error { f.paused = false; return nil }
func (f *fakeEngine) Paused() bool  { return f.paused }

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{
		Running:      true,
		Paused:       f.paused,
		SnippetCount: len(f.loaded),
	}
}

func (f *fakeEngine) Preview(command string) (string, error) {
	content, ok := f.previews[command]
	if !ok {
		return "", fmt.Errorf("unknown command %q", command)
	}
	return content, nil
}

func (f *fakeEngine) LoadSnippets(snips []snippet.Snippet) { f.loaded = snips }

// fakeSource implements SnippetSource and UsageSource.
type fakeSource struct {
	snips []snippet.Snippet
	stats []store.UsageStat
}

func (f *fakeSource) Snapshot() ([]snippet.Snippet, error) { return f.snips, nil }

func (f *fakeSource) UsageStats(since time.Time) ([]store.UsageStat, error) {
	return f.stats, nil
}

func newTestHandler(t *testing.T) (*DaemonHandler, *fakeEngine, *fakeSource) {
	t.Helper()

	eng := &fakeEngine{
		previews: map[string]string{"/sig": "Best,\nAvery"},
	}
	src := &fakeSource{
		snips: []snippet.Snippet{
			{Command: "/addr", Content: "123 Main St", Category: "personal"},
			{Command: "/sig", Content: "Best,\nAvery", Category: "work", Sensitive: true},
		},
		stats: []store.UsageStat{{Command: "/sig", Count: 3}},
	}
	h := NewDaemonHandler(HandlerConfig{
		Engine:   eng,
		Snippets: src,
		Usage:    src,
		Version:  "test",
	})
	return h, eng, src
}

func dispatch(t *testing.T, h *DaemonHandler, msgType MessageType, req any) *Message {
	t.Helper()

	var payload []byte
	if req != nil {
		var err error
		payload, err = Encode(req)
		require.NoError(t, err)
	}
	resp, err := h.HandleMessage(context.Background(), nil, NewMessage(msgType, 1, payload))
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestHandlerStatus(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgStatusRequest, nil)
	require.Equal(t, MsgStatusResponse, resp.Header.Type)

	var status StatusResponse
	require.NoError(t, Decode(resp.Payload, &status))
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.Running)
	assert.False(t, status.Paused)
}

func TestHandlerPauseResume(t *testing.T) {
	h, eng, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgPause, nil)
	require.Equal(t, MsgPauseResp, resp.Header.Type)
	assert.True(t, eng.paused)

	var pr PauseResponse
	require.NoError(t, Decode(resp.Payload, &pr))
	assert.True(t, pr.Paused)

	resp = dispatch(t, h, MsgResume, nil)
	require.Equal(t, MsgResumeResp, resp.Header.Type)
	assert.False(t, eng.paused)
}

func TestHandlerReloadLoadsSnapshot(t *testing.T) {
	h, eng, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgReloadLibrary, nil)
	require.Equal(t, MsgReloadLibraryResp, resp.Header.Type)

	var rr ReloadLibraryResponse
	require.NoError(t, Decode(resp.Payload, &rr))
	assert.Equal(t, 2, rr.SnippetCount)
	assert.Len(t, eng.loaded, 2)
}

func TestHandlerListSnippets(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgListSnippets, nil)
	require.Equal(t, MsgListSnippetsResp, resp.Header.Type)

	var lr ListSnippetsResponse
	require.NoError(t, Decode(resp.Payload, &lr))
	require.Len(t, lr.Snippets, 2)

	// Listings carry metadata only, never content.
	assert.Equal(t, "/addr", lr.Snippets[0].Command)
	assert.True(t, lr.Snippets[1].Sensitive)
}

func TestHandlerListSnippetsByCategory(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgListSnippets, &ListSnippetsRequest{Category: "work"})

	var lr ListSnippetsResponse
	require.NoError(t, Decode(resp.Payload, &lr))
	require.Len(t, lr.Snippets, 1)
	assert.Equal(t, "/sig", lr.Snippets[0].Command)
}

func TestHandlerUsageStats(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgUsageStats, &UsageStatsRequest{SinceHours: 24})
	require.Equal(t, MsgUsageStatsResp, resp.Header.Type)

	var ur UsageStatsResponse
	require.NoError(t, Decode(resp.Payload, &ur))
	require.Len(t, ur.Stats, 1)
	assert.Equal(t, "/sig", ur.Stats[0].Command)
	assert.Equal(t, int64(3), ur.Stats[0].Count)
}

func TestHandlerPreview(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgExpandPreview, &ExpandPreviewRequest{Command: "/sig"})
	require.Equal(t, MsgExpandPreviewResp, resp.Header.Type)

	var er ExpandPreviewResponse
	require.NoError(t, Decode(resp.Payload, &er))
	assert.Equal(t, "Best,\nAvery", er.Content)
}

func TestHandlerPreviewUnknownCommand(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MsgExpandPreview, &ExpandPreviewRequest{Command: "/nope"})
	require.Equal(t, MsgError, resp.Header.Type)

	var er ErrorResponse
	require.NoError(t, Decode(resp.Payload, &er))
	assert.Equal(t, ErrNotFound, er.Code)
}

func TestHandlerUnknownType(t *testing.T) {
	h, _, _ := newTestHandler(t)

	resp := dispatch(t, h, MessageType(0xFFFF), nil)
	assert.Equal(t, MsgError, resp.Header.Type)
}

func startTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "snipd.sock")
	cfg := DefaultServerConfig(filepath.Dir(socketPath))
	cfg.SocketPath = socketPath

	srv, err := NewServer(cfg, handler)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return srv
}

func connectTestClient(t *testing.T, srv *Server) *DaemonClient {
	t.Helper()

	client := NewClient(ClientConfig{SocketPath: srv.SocketPath(), Timeout: 5 * time.Second})
	require.NoError(t, client.Connect())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientServerPing(t *testing.T) {
	srv := startTestServer(t, nil)
	client := connectTestClient(t, srv)

	require.NoError(t, client.Ping())
}

func TestClientServerRoundTrip(t *testing.T) {
	h, eng, _ := newTestHandler(t)
	srv := startTestServer(t, h)
	client := connectTestClient(t, srv)

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.Running)

	pr, err := client.Pause()
	require.NoError(t, err)
	assert.True(t, pr.Paused)
	assert.True(t, eng.paused)

	pr, err = client.Resume()
	require.NoError(t, err)
	assert.False(t, pr.Paused)

	lr, err := client.ListSnippets("")
	require.NoError(t, err)
	assert.Len(t, lr.Snippets, 2)

	er, err := client.ExpandPreview("/sig")
	require.NoError(t, err)
	assert.Equal(t, "Best,\nAvery", er.Content)

	_, err = client.ExpandPreview("/nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon error")
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient(ClientConfig{SocketPath: "/nonexistent/snipd.sock"})
	err := client.Ping()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServerRejectsSecondStop(t *testing.T) {
	srv := startTestServer(t, nil)
	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestServerHonorsConfiguredReadTimeout(t *testing.T) {
	cfg := DefaultServerConfig(t.TempDir())
	cfg.ReadTimeout = 50 * time.Millisecond
	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	conn, err := dial(cfg.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	// An idle connection gets a keepalive ping once the configured
	// window elapses.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, msg.Header.Type)
}

func TestIsSocketListening(t *testing.T) {
	srv := startTestServer(t, nil)
	assert.True(t, IsSocketListening(srv.SocketPath()))

	require.NoError(t, srv.Stop())
	assert.False(t, IsSocketListening(srv.SocketPath()))
}
