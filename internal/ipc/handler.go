package ipc

import (
	"context"
	"log/slog"
	"time"

	"snipd/internal/engine"
	"snipd/internal/snippet"
	"snipd/internal/store"
)

// EngineControl is the slice of the expansion engine the control plane
// drives. *engine.Engine satisfies it; tests use fakes.
type EngineControl interface {
	Pause()
	Resume() error
	Paused() bool
	Status() engine.Status
	Preview(command string) (string, error)
	LoadSnippets(snips []snippet.Snippet)
}

// SnippetSource provides the merged snippet snapshot.
type SnippetSource interface {
	Snapshot() ([]snippet.Snippet, error)
}

// UsageSource provides aggregated expansion counts.
type UsageSource interface {
	UsageStats(since time.Time) ([]store.UsageStat, error)
}

// DaemonHandler dispatches control messages to the daemon's
// subsystems.
type DaemonHandler struct {
	engine   EngineControl
	snippets SnippetSource
	usage    UsageSource
	version  string
	started  time.Time
	shutdown func()
	logger   *slog.Logger
}

// HandlerConfig wires the daemon handler.
type HandlerConfig struct {
	Engine   EngineControl
	Snippets SnippetSource
	Usage    UsageSource
	Version  string
	Shutdown func() // invoked asynchronously on MsgShutdown
	Logger   *slog.Logger
}

// NewDaemonHandler creates the daemon's message handler.
func NewDaemonHandler(cfg HandlerConfig) *DaemonHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonHandler{
		engine:   cfg.Engine,
		snippets: cfg.Snippets,
		usage:    cfg.Usage,
		version:  cfg.Version,
		started:  time.Now(),
		shutdown: cfg.Shutdown,
		logger:   logger.With("component", "ipc"),
	}
}

// HandleMessage implements Handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(msg)
	case MsgPause:
		return h.handlePause(msg)
	case MsgResume:
		return h.handleResume(msg)
	case MsgReloadLibrary:
		return h.handleReload(msg)
	case MsgListSnippets:
		return h.handleList(msg)
	case MsgUsageStats:
		return h.handleUsage(msg)
	case MsgExpandPreview:
		return h.handlePreview(msg)
	case MsgShutdown:
		return h.handleShutdown(msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unknown message type"), nil
	}
}

func (h *DaemonHandler) handleStatus(msg *Message) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.version,
		Uptime:    time.Since(h.started),
		StartedAt: h.started,
		Status:    h.engine.Status(),
	}
	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handlePause(msg *Message) (*Message, error) {
	h.engine.Pause()
	h.logger.Info("expansion paused by client")
	return NewResponse(MsgPauseResp, msg.Header.RequestID, &PauseResponse{Paused: true})
}

func (h *DaemonHandler) handleResume(msg *Message) (*Message, error) {
	if err := h.engine.Resume(); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	h.logger.Info("expansion resumed by client")
	return NewResponse(MsgResumeResp, msg.Header.RequestID, &PauseResponse{Paused: false})
}

func (h *DaemonHandler) handleReload(msg *Message) (*Message, error) {
	snips, err := h.snippets.Snapshot()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	h.engine.LoadSnippets(snips)
	h.logger.Info("library reloaded by client", "snippets", len(snips))
	return NewResponse(MsgReloadLibraryResp, msg.Header.RequestID, &ReloadLibraryResponse{
		SnippetCount: len(snips),
	})
}

func (h *DaemonHandler) handleList(msg *Message) (*Message, error) {
	var req ListSnippetsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid list request"), nil
		}
	}

	snips, err := h.snippets.Snapshot()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	infos := make([]SnippetInfo, 0, len(snips))
	for _, snip := range snips {
		if req.Category != "" && snip.Category != req.Category {
			continue
		}
		infos = append(infos, SnippetInfo{
			Command:     snip.Command,
			Kind:        string(snip.Kind),
			Description: snip.Description,
			Category:    snip.Category,
			Sensitive:   snip.Sensitive,
		})
	}

	return NewResponse(MsgListSnippetsResp, msg.Header.RequestID, &ListSnippetsResponse{
		Snippets: infos,
	})
}

func (h *DaemonHandler) handleUsage(msg *Message) (*Message, error) {
	var req UsageStatsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid usage request"), nil
		}
	}

	var since time.Time
	if req.SinceHours > 0 {
		since = time.Now().Add(-time.Duration(req.SinceHours) * time.Hour)
	}

	stats, err := h.usage.UsageStats(since)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	return NewResponse(MsgUsageStatsResp, msg.Header.RequestID, &UsageStatsResponse{Stats: stats})
}

func (h *DaemonHandler) handlePreview(msg *Message) (*Message, error) {
	var req ExpandPreviewRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid preview request"), nil
	}
	if req.Command == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "command required"), nil
	}

	content, err := h.engine.Preview(req.Command)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotFound, err.Error()), nil
	}

	return NewResponse(MsgExpandPreviewResp, msg.Header.RequestID, &ExpandPreviewResponse{
		Command: req.Command,
		Content: content,
	})
}

func (h *DaemonHandler) handleShutdown(msg *Message) (*Message, error) {
	if h.shutdown == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "shutdown not supported"), nil
	}
	h.logger.Info("shutdown requested by client")
	// Respond before exiting so the client sees the acknowledgement.
	go h.shutdown()
	return NewResponse(MsgShutdown, msg.Header.RequestID, &ShutdownResponse{Stopping: true})
}
