package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/service"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// The feed is read-only; peers only send control frames.
	maxMessageSize = 512
)

// originChecker accepts requests without an Origin header, same-host pages
// and the origins allowed reports true for.
func originChecker(allowed func(origin string) bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return allowed != nil && allowed(origin)
	}
}

// Client is one websocket connection watching a single group.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  uint
	groupID uint
}

// readPump drains the connection so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket closed unexpectedly",
					zap.Uint("user_id", c.userID),
					zap.Uint("group_id", c.groupID),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump sends hub frames and keepalive pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GroupFinder resolves a group that may be watched.
type GroupFinder interface {
	GetGroupDetail(ctx context.Context, groupID uint) (*model.GroupDetail, error)
}

type Handler struct {
	hub      *Hub
	groups   GroupFinder
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewHandler serves the live feed. Cross-origin pages must pass allowOrigin.
func NewHandler(hub *Hub, groups GroupFinder, allowOrigin func(origin string) bool, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		groups: groups,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowOrigin),
		},
		log: log,
	}
}

// Serve upgrades an authenticated request into a live feed of the group's
// new messages.
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetUint(session.ContextUserID)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrUnauthenticated.Error()})
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrGroupNotFound.Error()})
		return
	}
	groupID := uint(id)

	if _, err := h.groups.GetGroupDetail(c.Request.Context(), groupID); err != nil {
		if errors.Is(err, service.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.ErrorContext(c.Request.Context(), "failed to load group for live feed", zap.Uint("group_id", groupID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrPersistenceUnavailable.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the peer.
		h.log.WarnContext(c.Request.Context(), "failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  userID,
		groupID: groupID,
	}
	if !h.hub.join(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
