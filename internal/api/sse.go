package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charliek/semrun/internal/domain"
)

// StreamLogs handles GET /api/v1/logs/stream (SSE)
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "streaming not supported",
			Code:  domain.ErrCodeStreamingNotSupported,
		})
		return
	}

	filter := logFilter(parseLogParams(r))

	subID, ch, err := h.logManager.Subscribe(filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer h.logManager.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Initial comment establishes the stream before the first line arrives
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// A slow client loses lines in the subscription buffer rather than
	// blocking the log manager
	ctx := r.Context()
	done := h.supervisor.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			// Flush lines logged before the run finished
			h.drain(w, ch)
			fmt.Fprintf(w, "event: done\ndata: {}\n\n")
			flusher.Flush()
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if err := h.writeEvent(w, entry); err != nil {
				h.logger.Debug("sse write failed, client likely disconnected", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handlers) writeEvent(w http.ResponseWriter, entry domain.LogEntry) error {
	data, err := json.Marshal(ToLogEntryResponse(entry))
	if err != nil {
		return nil
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (h *Handlers) drain(w http.ResponseWriter, ch <-chan domain.LogEntry) {
	for {
		select {
		case entry, ok := <-ch:
			if !ok || h.writeEvent(w, entry) != nil {
				return
			}
		default:
			return
		}
	}
}
