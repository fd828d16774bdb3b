package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/metrics"
)

// Hub is the session registry for realtime clients: it tracks live clients
// and which negotiation rooms each one has joined, and fans events out to
// room members.
//
// Frames are only queued while holding mu for reading and clients are only
// closed while holding it for writing, so a send never races a close.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[uuid.UUID]map[string]*Client
	joined  map[string]map[uuid.UUID]struct{}
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[uuid.UUID]map[string]*Client),
		joined:  make(map[string]map[uuid.UUID]struct{}),
		metrics: m,
		logger:  logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// Register adds a client. A client already registered under the same id is
// replaced and closed.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok && old != client {
		h.removeLocked(old.ClientID)
	}
	h.clients[client.ClientID] = client
	h.joined[client.ClientID] = make(map[uuid.UUID]struct{})
	h.metrics.ClientConnected()
}

// Unregister removes the client from every room and closes it. It is a
// no-op when the client has already been replaced under the same id.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.ClientID] != client {
		return
	}
	h.removeLocked(client.ClientID)
}

func (h *Hub) GetClient(clientID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Join subscribes the client to a negotiation room. Joining twice is a no-op.
func (h *Hub) Join(clientID string, negotiationID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	room, ok := h.rooms[negotiationID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[negotiationID] = room
	}
	room[clientID] = c
	h.joined[clientID][negotiationID] = struct{}{}
	return nil
}

// Leave unsubscribes the client from a room.
func (h *Hub) Leave(clientID string, negotiationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(clientID, negotiationID)
}

// IsMember reports whether the client has joined the room.
func (h *Hub) IsMember(clientID string, negotiationID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[negotiationID][clientID]
	return ok
}

// Rooms lists the rooms the client has joined.
func (h *Hub) Rooms(clientID string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.joined[clientID]))
	for id := range h.joined[clientID] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) RoomSize(negotiationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[negotiationID])
}

// SendToClient queues a frame for one client without blocking.
func (h *Hub) SendToClient(clientID string, frame *Frame) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return ErrClientNotFound
	}
	if !trySend(c, frame) {
		return ErrChannelFull
	}
	return nil
}

// Stop closes every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.clients {
		h.removeLocked(id)
	}
}

func (h *Hub) leaveLocked(clientID string, negotiationID uuid.UUID) {
	if room, ok := h.rooms[negotiationID]; ok {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rooms, negotiationID)
		}
	}
	if rooms, ok := h.joined[clientID]; ok {
		delete(rooms, negotiationID)
	}
}

func (h *Hub) removeLocked(clientID string) {
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	for id := range h.joined[clientID] {
		h.leaveLocked(clientID, id)
	}
	delete(h.joined, clientID)
	delete(h.clients, clientID)
	c.close()
	h.metrics.ClientDisconnected()
}

// Publish delivers a negotiation event to every member of its room,
// including the client whose request produced it. Callers serialize
// Publish per negotiation, which fixes the delivery order for the room.
// A member whose buffer is full is evicted instead of skipping the frame,
// so a connected client never sees a gap.
func (h *Hub) Publish(ev negotiation.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("negotiation_id", ev.NegotiationID.String()).Msg("failed to encode event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	for _, c := range h.rooms[ev.NegotiationID] {
		if !trySend(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range slow {
		if h.clients[c.ClientID] != c {
			continue
		}
		h.logger.Warn().
			Str("client_id", c.ClientID).
			Str("negotiation_id", ev.NegotiationID.String()).
			Str("event", frame.Event).
			Msg("evicting slow realtime client")
		h.removeLocked(c.ClientID)
		h.metrics.ClientEvicted()
	}
}

// Signal relays an ephemeral frame to the other members of a room. Frames
// that do not fit a member's buffer are dropped.
func (h *Hub) Signal(negotiationID uuid.UUID, fromClientID string, frame *Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[negotiationID] {
		if id == fromClientID {
			continue
		}
		if !trySend(c, frame) {
			h.metrics.TypingSignalDropped()
		}
	}
}
