package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"syncServer/backend/internal/collab"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	for _, p := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager upgrades HTTP requests into engine-bound websocket sessions.
type Manager struct {
	hub *Hub
	svc *collab.Service
	sem *collab.Semaphore
	log zerolog.Logger
}

func NewManager(hub *Hub, svc *collab.Service, sem *collab.Semaphore, logger zerolog.Logger) *Manager {
	return &Manager{hub: hub, svc: svc, sem: sem, log: logger}
}

// WebSocketConnect is the gin handler for /sync/ws. User identity comes
// from query parameters; authenticating it is out of scope here.
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.String(http.StatusBadRequest, "missing userId")
		return
	}
	username := c.Query("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, m.svc, m.sem, m.log, userID, username)

	// Start the writer first so frames queued during subscribe are
	// flushed promptly; readLoop blocks until the connection closes.
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: "welcome", UserID: userID})
	wsConn.readLoop(c.Request.Context())
}
