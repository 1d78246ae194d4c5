package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request and streams results matching caseIDs until the
// client goes away or the hub shuts down.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, caseIDs []int64) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}

	conn := h.NewConnection(ws, caseIDs)

	// The ack goes first, ahead of any result fanned out after Register.
	ack, err := json.Marshal(ServerMessage{Type: TypeSubscribed, Ts: time.Now().UnixMilli(), ConnectionID: conn.ID, CaseIDs: caseIDs})
	if err != nil {
		_ = ws.Close()
		return err
	}
	conn.Send <- ack

	if err := h.Register(conn); err != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = ws.Close()
		return nil
	}
	ws.SetReadLimit(h.opts.MaxMessageSize)

	go h.writePump(conn)
	go h.readPump(conn)
	return nil
}

func (h *Hub) readPump(conn *Connection) {
	defer func() {
		h.Unregister(conn)
		conn.Conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		h.handleMessage(conn, data)
	}
}

func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = conn.writeMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.writeMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = conn.send(ServerMessage{Type: TypeError, Ts: time.Now().UnixMilli(), Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		for _, id := range msg.CaseIDs {
			if id <= 0 {
				_ = conn.send(ServerMessage{Type: TypeError, Ts: time.Now().UnixMilli(), Message: "case ids must be positive"})
				return
			}
		}
		conn.setFilter(msg.CaseIDs)
		_ = conn.send(ServerMessage{Type: TypeSubscribed, Ts: time.Now().UnixMilli(), ConnectionID: conn.ID, CaseIDs: msg.CaseIDs})
	default:
		_ = conn.send(ServerMessage{Type: TypeError, Ts: time.Now().UnixMilli(), Message: "unknown message type: " + msg.Type})
	}
}
