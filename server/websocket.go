package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/martinemde/aethel/agentloop"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// snapshotKey identifies the parts of the state whose change triggers a push.
type snapshotKey struct {
	steps   int
	status  agentloop.Status
	request string
}

func keyOf(s *agentloop.SessionState) snapshotKey {
	k := snapshotKey{steps: len(s.Steps), status: s.Meta.Status}
	if s.PendingUIRequest != nil {
		k.request = s.PendingUIRequest.Title + "\x00" + s.PendingUIRequest.Message
	}
	return k
}

// handleWebSocket sends the snapshot on connect and again whenever the step
// count, status or clarification request changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := "client-" + uuid.New().String()[:8]
	logger := s.logger.With(zap.String("client_id", clientID))
	logger.Debug("websocket connected")

	// The read loop only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.session.Snapshot()
	last := keyOf(snap)
	if err := s.push(conn, snap); err != nil {
		logger.Debug("websocket write failed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			logger.Debug("websocket disconnected")
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			snap := s.session.Snapshot()
			key := keyOf(snap)
			if key == last {
				continue
			}
			last = key
			if err := s.push(conn, snap); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, snap *agentloop.SessionState) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}
