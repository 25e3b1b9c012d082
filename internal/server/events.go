package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harlequin/hartree/internal/operation"
)

// upgrader accepts any origin: this endpoint carries no credentials beyond
// the operation ID already embedded in the URL, which is itself an
// unguessable UUID.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const eventsPollInterval = 500 * time.Millisecond

// handleCaptureEvents upgrades to a websocket, polls the operation every
// eventsPollInterval and pushes it to the client whenever its status has
// changed, until it reaches a terminal state, then closes the connection.
// There is no client→server message traffic; this is a one-way status feed.
func (s *Server) handleCaptureEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "operation id is required")
		return
	}

	if _, err := s.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("operation %q not found", id))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(eventsPollInterval)
	defer ticker.Stop()

	var lastStatus operation.Status
	for range ticker.C {
		op, err := s.store.Get(id)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			return
		}

		if op.Status == lastStatus {
			continue
		}
		lastStatus = op.Status

		if err := conn.WriteJSON(op); err != nil {
			slog.Warn("events: write failed, client likely disconnected", "operation_id", id, "error", err)
			return
		}

		if op.Status == operation.StatusComplete || op.Status == operation.StatusFailed {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
