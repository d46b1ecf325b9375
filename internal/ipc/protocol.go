// Package ipc provides inter-process communication between the snipd
// daemon and client tools (snipctl, editor plugins).
//
// The protocol is a simple length-prefixed frame over a Unix socket
// (named pipe on Windows): a fixed 16-byte header followed by a JSON
// payload. Every request gets exactly one response; there is no
// streaming. The socket's file permissions are the access control:
// only the owning user can connect.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"snipd/internal/engine"
	"snipd/internal/store"
)

// Protocol version for compatibility checking.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x534E4950 // "SNIP"
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing     MessageType = 0x0001
	MsgPong     MessageType = 0x0002
	MsgError    MessageType = 0x0005
	MsgShutdown MessageType = 0x0006

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Engine control (0x02xx)
	MsgPause      MessageType = 0x0200
	MsgPauseResp  MessageType = 0x0201
	MsgResume     MessageType = 0x0202
	MsgResumeResp MessageType = 0x0203

	// Library operations (0x03xx)
	MsgReloadLibrary     MessageType = 0x0300
	MsgReloadLibraryResp MessageType = 0x0301
	MsgListSnippets      MessageType = 0x0302
	MsgListSnippetsResp  MessageType = 0x0303

	// Usage statistics (0x04xx)
	MsgUsageStats     MessageType = 0x0400
	MsgUsageStatsResp MessageType = 0x0401

	// Expansion preview (0x05xx)
	MsgExpandPreview     MessageType = 0x0500
	MsgExpandPreviewResp MessageType = 0x0501
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// Header flags.
const (
	FlagJSON uint8 = 0x04 // Payload is JSON (the only encoding today)
)

// MaxPayloadSize bounds a single frame. Snippet libraries are small;
// anything larger is a corrupt or hostile frame.
const MaxPayloadSize = 16 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes.
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
)

// StatusResponse contains daemon status.
type StatusResponse struct {
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	StartedAt time.Time     `json:"started_at"`
	engine.Status
}

// PauseResponse acknowledges a pause or resume request.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

// ReloadLibraryResponse reports the snapshot loaded after a manual reload.
type ReloadLibraryResponse struct {
	SnippetCount int `json:"snippet_count"`
}

// ListSnippetsRequest filters the snippet listing.
type ListSnippetsRequest struct {
	Category string `json:"category,omitempty"`
}

// SnippetInfo is one listed snippet. Content is deliberately absent:
// listings are metadata, sensitive content stays in the daemon.
type SnippetInfo struct {
	Command     string `json:"command"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
}

// ListSnippetsResponse contains the snippet listing.
type ListSnippetsResponse struct {
	Snippets []SnippetInfo `json:"snippets"`
}

// UsageStatsRequest bounds the usage window.
type UsageStatsRequest struct {
	SinceHours int `json:"since_hours,omitempty"` // 0 means all time
}

// UsageStatsResponse contains aggregated usage.
type UsageStatsResponse struct {
	Stats []store.UsageStat `json:"stats"`
}

// ExpandPreviewRequest asks for a dry-run expansion of one command.
type ExpandPreviewRequest struct {
	Command string `json:"command"`
}

// ExpandPreviewResponse contains the resolved content. Nothing is
// injected anywhere; previews run the resolver only.
type ExpandPreviewResponse struct {
	Command string `json:"command"`
	Content string `json:"content"`
}

// ShutdownResponse acknowledges a shutdown request before the daemon exits.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
