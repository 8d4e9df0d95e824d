package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"syncServer/backend/internal/collab"
)

const presenceTTL = 600 * time.Second

// Conn is one websocket client bound to a user and, after subscribe, to
// a document room. Outbound frames go through a buffered channel so a
// slow reader never blocks the engine.
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	svc      *collab.Service
	sem      *collab.Semaphore
	log      zerolog.Logger
	docID    string
	userID   string
	username string
	send     chan ServerMessage
}

func NewConn(ws *websocket.Conn, hub *Hub, svc *collab.Service, sem *collab.Semaphore, logger zerolog.Logger, userID, username string) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		svc:      svc,
		sem:      sem,
		log:      logger,
		userID:   userID,
		username: username,
		send:     make(chan ServerMessage, 32),
	}
}

// enqueue drops the frame when the send queue is full.
func (c *Conn) enqueue(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if c.docID != "" {
			c.hub.Leave(c.docID, c)
			c.svc.Unsubscribe(ctx, c.docID, c.userID)
			if c.hub.presence != nil {
				_ = c.hub.presence.RemoveMember(ctx, c.docID, c.userID)
			}
		}
		close(c.send)
	}()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.log.Debug().Err(err).Str("user", c.userID).Str("doc", c.docID).Msg("read loop closed")
			return
		}

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(ctx, msg)
		case "unsubscribe":
			if c.docID != "" {
				c.hub.Leave(c.docID, c)
				c.svc.Unsubscribe(ctx, c.docID, c.userID)
				if c.hub.presence != nil {
					_ = c.hub.presence.RemoveMember(ctx, c.docID, c.userID)
				}
				c.docID = ""
			}
		case "operation":
			c.handleOperation(ctx, msg)
		case "lock":
			granted, err := c.svc.LockRange(ctx, msg.DocID, c.userID, msg.Start, msg.End, msg.Exclusive)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: err.Error()})
				continue
			}
			c.enqueue(ServerMessage{Type: "lock", DocID: msg.DocID, Granted: &granted})
		case "unlock":
			if err := c.svc.UnlockRange(ctx, msg.DocID, c.userID); err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: err.Error()})
			}
		case "cursor":
			if c.hub.presence != nil && c.docID != "" {
				_ = c.hub.presence.SetCursor(ctx, c.docID, c.userID, msg.Cursor, presenceTTL)
			}
		case "heartbeat":
			c.handleHeartbeat(ctx)
		case "snapshot":
			snap, err := c.svc.GetSnapshot(ctx, msg.DocID, msg.Version)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: err.Error()})
				continue
			}
			c.enqueue(ServerMessage{Type: "snapshot", DocID: msg.DocID, Version: snap.Version, Content: snap.Content, Checksum: snap.Checksum})
		default:
			c.enqueue(ServerMessage{Type: "ignored", Error: "unknown message type"})
		}
	}
}

func (c *Conn) handleSubscribe(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.enqueue(ServerMessage{Type: "error", Error: "missing docId"})
		return
	}
	if c.docID != "" && c.docID != msg.DocID {
		c.hub.Leave(c.docID, c)
		c.svc.Unsubscribe(ctx, c.docID, c.userID)
	}
	doc, err := c.svc.Subscribe(ctx, msg.DocID, msg.DocType, c.userID, parseMode(msg.Mode))
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: err.Error()})
		return
	}
	c.docID = msg.DocID
	c.hub.Join(c.docID, c)
	if c.hub.presence != nil {
		if err := c.hub.presence.AddMember(ctx, c.docID, c.userID, c.username, presenceTTL); err != nil {
			c.log.Warn().Err(err).Str("doc", c.docID).Msg("presence add failed")
		}
	}
	c.enqueue(ServerMessage{Type: "subscribed", DocID: doc.ID, Version: doc.Version, Content: doc.Content, Checksum: doc.Checksum})
}

func (c *Conn) handleOperation(ctx context.Context, msg ClientMessage) {
	if msg.Op == nil {
		c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: "missing op"})
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := c.sem.Acquire(opCtx); err != nil {
		c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Error: err.Error()})
		return
	}
	defer c.sem.Release()

	op := *msg.Op
	op.UserID = c.userID
	if op.DocumentID == "" {
		op.DocumentID = msg.DocID
	}

	var applied collab.Applied
	var err error
	if msg.ClientID != "" {
		applied, err = c.svc.ApplyFromClient(opCtx, op, msg.ClientID, msg.ClientSeq)
	} else {
		applied, err = c.svc.ApplyOperation(opCtx, op)
	}
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", DocID: op.DocumentID, Error: err.Error()})
		return
	}
	c.enqueue(ServerMessage{Type: "op_applied", DocID: op.DocumentID, Version: applied.Version})
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	if c.hub.presence == nil || c.docID == "" {
		return
	}
	if err := c.hub.presence.AddMember(ctx, c.docID, c.userID, c.username, presenceTTL); err != nil {
		c.log.Warn().Err(err).Str("doc", c.docID).Msg("heartbeat refresh failed")
		return
	}
	members, err := c.hub.presence.GetAliveMembers(ctx, c.docID)
	if err != nil {
		c.log.Warn().Err(err).Str("doc", c.docID).Msg("presence lookup failed")
		return
	}
	c.hub.BroadcastPresence(c.docID, members)
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
