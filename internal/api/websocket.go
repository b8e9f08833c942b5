package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patrickwarner/flashbid/internal/token"
	"github.com/patrickwarner/flashbid/internal/ws"
)

// Close codes the client distinguishes.
const (
	closeInvalidToken    = 4001
	closeInvalidCampaign = 4002
)

// WebSocketHandler subscribes a client to a campaign room at
// /ws/{campaign_id}?token=<jwt>. The connection receives ranking_update,
// bid_accepted and campaign_ended events; the client may send "ping" and
// gets "pong" back.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade", zap.Error(err))
		return
	}

	closeWith := func(code int, reason string) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = conn.Close()
	}

	claims, err := token.Verify(r.URL.Query().Get("token"), []byte(s.Config.JWTSecret))
	if err != nil {
		closeWith(closeInvalidToken, "invalid token")
		return
	}
	userID := claims.Subject

	campaignID := mux.Vars(r)["campaign_id"]
	if _, err := uuid.Parse(campaignID); err != nil {
		closeWith(closeInvalidCampaign, "invalid campaign id")
		return
	}

	wrapped := ws.NewConn(conn)
	s.Hub.Register(campaignID, userID, wrapped)
	defer func() {
		s.Hub.Unregister(campaignID, userID, wrapped)
		_ = wrapped.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Debug("websocket read",
					zap.String("campaign_id", campaignID),
					zap.String("user_id", userID),
					zap.Error(err))
			}
			return
		}
		if string(msg) == "ping" {
			if tw, ok := wrapped.(ws.TextWriter); ok {
				if err := tw.WriteText("pong"); err != nil {
					return
				}
			}
		}
	}
}
