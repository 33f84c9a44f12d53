package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderdesk/orderdesk/internal/chat"
)

// wsErrorMessage is the fixed frame sent when a socket turn fails. The
// customer-facing wording never varies with the cause.
const wsErrorMessage = "Let us fix the issue. Please try after some time."

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type wsFrame struct {
	Status string           `json:"status"`
	Result *chat.TurnResult `json:"result,omitempty"`
}

// handleWS runs a chat conversation over one WebSocket connection. The
// connection owns its thread: the first turn creates it, later turns reuse
// it, and the socket closes once the order completes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.originAllowed(origin)
	}

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ConnOpened()
		defer s.metrics.ConnClosed()
	}

	threadRef := ""
	for {
		var req chat.TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.logger.Warn("websocket read failed", "error", err)
			s.wsError(conn)
			return
		}

		if threadRef != "" {
			req.ThreadRef = threadRef
			req.IsInitial = false
		} else if req.ThreadRef == "" {
			req.IsInitial = true
		}

		result, err := s.engine.ProcessTurn(r.Context(), req)
		if err != nil {
			var verr *chat.ValidationError
			if errors.As(err, &verr) {
				s.logger.Warn("websocket turn rejected", "error", err)
			} else {
				s.logger.Error("websocket turn failed", "thread", threadRef, "error", err)
			}
			s.wsError(conn)
			return
		}
		threadRef = result.ThreadRef

		frame := wsFrame{Status: "ok", Result: result}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Warn("websocket write failed", "thread", threadRef, "error", err)
			return
		}

		if result.Complete {
			data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order complete")
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, data)
			return
		}
	}
}

func (s *Server) wsError(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(map[string]string{
		"status":  "error",
		"message": wsErrorMessage,
	})
	data := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, data)
}
