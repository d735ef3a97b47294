package api

import (
	"fmt"
	"net/http"
	"time"
)

// StreamUnread pushes the caller's unread count as server-sent events. Each
// change is an "unread" event whose data is the count; comments keep idle
// connections open.
// @Summary      Stream unread count
// @Tags         notifications
// @Produce      text/event-stream
// @Success      200 {string} string "event: unread"
// @Router       /notifications/stream [get]
func (h *Handler) StreamUnread(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	actor := ActorFrom(ctx)
	counts, err := h.Notifications.WatchUnread(ctx, actor)
	if err != nil {
		h.fail(w, r, "Failed to watch notifications", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := h.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	h.Logger.Debug("unread stream opened", "actor_id", actor)
	defer h.Logger.Debug("unread stream closed", "actor_id", actor)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-counts:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: unread\ndata: %d\n\n", n); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
