package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/aivsjobs/internal/models"
)

const (
	sessionWSReadLimit  = 16 << 10
	sessionWSPongWait   = 60 * time.Second
	sessionWSPingPeriod = 50 * time.Second
	sessionWSWriteWait  = 10 * time.Second
)

var sessionWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionWSInMessage is the JSON shape sent from the page.
type sessionWSInMessage struct {
	Type       string `json:"type"`
	Profession string `json:"profession"`
}

// sessionWSOutMessage is the JSON shape sent to the page.
type sessionWSOutMessage struct {
	Type  string           `json:"type"` // "state" or "error"
	State *models.Snapshot `json:"state,omitempty"`
	Error string           `json:"error,omitempty"`
}

// SessionWS handles GET /api/sessions/{id}/ws: it pushes every state change and accepts analyze requests.
func (h *Handler) SessionWS(w http.ResponseWriter, r *http.Request) {
	s, status, msg := h.lookupSession(r)
	if s == nil {
		http.Error(w, msg, status)
		return
	}
	conn, err := sessionWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("session ws upgrade failed")
		return
	}
	defer conn.Close()

	states, cancel := s.Subscribe()
	defer cancel()

	// Only the writer goroutine writes to conn; the read loop hands it replies.
	replies := make(chan sessionWSOutMessage, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// unblocks the read loop when the writer gives up
		defer conn.Close()
		h.sessionWSWriter(conn, states, replies)
	}()

	conn.SetReadLimit(sessionWSReadLimit)
	conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", s.ID().String()).Msg("session ws read")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))

		var in sessionWSInMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			sendReply(replies, sessionWSOutMessage{Type: "error", Error: "invalid JSON: " + err.Error()})
			continue
		}
		if in.Type != "analyze" {
			sendReply(replies, sessionWSOutMessage{Type: "error", Error: "expected type: analyze"})
			continue
		}
		if err := h.validateProfession(in.Profession); err != nil {
			sendReply(replies, sessionWSOutMessage{Type: "error", Error: err.Error()})
			continue
		}
		// Blank input is a silent no-op; state changes arrive through the subscription.
		s.Submit(in.Profession)
	}

	cancel()
	<-done
}

func (h *Handler) sessionWSWriter(conn *websocket.Conn, states <-chan models.Snapshot, replies <-chan sessionWSOutMessage) {
	ticker := time.NewTicker(sessionWSPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-states:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeWSJSON(conn, sessionWSOutMessage{Type: "state", State: &snap}); err != nil {
				log.Debug().Err(err).Msg("session ws write")
				return
			}
		case reply := <-replies:
			if err := writeWSJSON(conn, reply); err != nil {
				log.Debug().Err(err).Msg("session ws write")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendReply drops the reply when the writer is backed up.
func sendReply(replies chan<- sessionWSOutMessage, msg sessionWSOutMessage) {
	select {
	case replies <- msg:
	default:
	}
}

func writeWSJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait))
	return conn.WriteJSON(v)
}
