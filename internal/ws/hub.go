package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/pkg/redis"
	logger "github.com/lunchroulette/server/middleware/log"
)

var errHubStopped = errors.New("hub stopped")

// PubSub relays group messages between server instances.
type PubSub interface {
	PublishGroup(ctx context.Context, groupID uint, payload []byte) error
	SubscribeGroups(ctx context.Context) (*goredis.PubSub, error)
}

// Envelope is the frame pushed to websocket subscribers.
type Envelope struct {
	GroupID uint               `json:"group_id"`
	Message *model.MessageView `json:"message"`
}

type delivery struct {
	groupID uint
	payload []byte
}

// Hub keeps one room of live connections per group.
type Hub struct {
	// GroupID -> Client -> bool
	rooms map[uint]map[*Client]bool
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}

	pubsub PubSub
	log    *logger.Logger
}

// NewHub creates a hub. With a nil pubsub messages only reach clients of this
// instance.
func NewHub(pubsub PubSub, log *logger.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		pubsub:     pubsub,
		log:        log,
	}
}

// Start subscribes to the shared group channels (when configured) and runs the
// hub until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	if h.pubsub != nil {
		sub, err := h.pubsub.SubscribeGroups(ctx)
		if err != nil {
			return err
		}
		go h.forward(ctx, sub)
	}
	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.groupID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.groupID] = room
			}
			room[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.Lock()
			for client := range h.rooms[d.groupID] {
				select {
				case client.send <- d.payload:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	room, ok := h.rooms[client.groupID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.groupID)
	}
}

// forward hands messages published by any instance to local clients.
func (h *Hub) forward(ctx context.Context, sub *goredis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			groupID, ok := redis.ParseGroupChannel(msg.Channel)
			if !ok {
				h.log.Warn("ignoring message on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			select {
			case h.deliver <- delivery{groupID: groupID, payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// BroadcastMessage pushes msg to every subscriber of its group.
func (h *Hub) BroadcastMessage(ctx context.Context, msg *model.MessageView) error {
	payload, err := json.Marshal(&Envelope{GroupID: msg.GroupID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if h.pubsub != nil {
		// every instance, this one included, receives it through forward
		return h.pubsub.PublishGroup(ctx, msg.GroupID, payload)
	}

	select {
	case h.deliver <- delivery{groupID: msg.GroupID, payload: payload}:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers reports how many live connections watch groupID.
func (h *Hub) Subscribers(groupID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[groupID])
}
