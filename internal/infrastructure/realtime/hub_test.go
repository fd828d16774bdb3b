package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
)

func newTestNegotiation(t *testing.T) *negotiation.Negotiation {
	t.Helper()
	n, err := negotiation.New(negotiation.Draft{
		ProductID: uuid.New(),
		BuyerID:   uuid.New(),
		FarmerID:  uuid.New(),
		Quantity:  2,
		Unit:      negotiation.UnitQuintal,
		ListPrice: decimal.NewFromInt(2500),
	})
	require.NoError(t, err)
	return n
}

func messageEvent(t *testing.T, n *negotiation.Negotiation, price int64) negotiation.Event {
	t.Helper()
	p := decimal.NewFromInt(price)
	msg, err := n.AddMessage(n.FarmerID, negotiation.RoleFarmer, &p, nil)
	require.NoError(t, err)
	return negotiation.NewEvent(negotiation.EventNewMessage, n, msg)
}

func drain(c *Client) []*Frame {
	var out []*Frame
	for {
		select {
		case f, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func isClosed(c *Client) bool {
	for {
		select {
		case _, ok := <-c.Send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	c := NewClient("c1", nil, 8)
	h.Register(c)

	roomA, roomB := uuid.New(), uuid.New()
	require.NoError(t, h.Join("c1", roomA))
	require.NoError(t, h.Join("c1", roomA))
	require.NoError(t, h.Join("c1", roomB))

	assert.Equal(t, 1, h.RoomSize(roomA))
	assert.ElementsMatch(t, []uuid.UUID{roomA, roomB}, h.Rooms("c1"))

	h.Leave("c1", roomA)
	assert.False(t, h.IsMember("c1", roomA))
	assert.True(t, h.IsMember("c1", roomB))
	assert.Zero(t, h.RoomSize(roomA))

	assert.ErrorIs(t, h.Join("ghost", roomA), ErrClientNotFound)
}

func TestHub_UnregisterRemovesMembership(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	c := NewClient("c1", nil, 8)
	h.Register(c)
	room := uuid.New()
	require.NoError(t, h.Join("c1", room))

	h.Unregister(c)

	assert.Zero(t, h.GetClientCount())
	assert.Zero(t, h.RoomSize(room))
	assert.True(t, isClosed(c))
	assert.NotPanics(t, func() { h.Unregister(c) })
}

func TestHub_UnregisterIgnoresReplacedClient(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	room := uuid.New()
	first := NewClient("tab-1", nil, 8)
	h.Register(first)
	require.NoError(t, h.Join("tab-1", room))

	second := NewClient("tab-1", nil, 8)
	h.Register(second)
	require.NoError(t, h.Join("tab-1", room))
	assert.True(t, isClosed(first))

	h.Unregister(first)

	assert.Equal(t, 1, h.GetClientCount())
	assert.Equal(t, 1, h.RoomSize(room))
	assert.Same(t, second, h.GetClient("tab-1"))
	assert.False(t, isClosed(second))
}

func TestHub_PublishReachesWholeRoomInOrder(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	n := newTestNegotiation(t)

	initiator := NewClient("initiator", nil, 8)
	peer := NewClient("peer", nil, 8)
	outsider := NewClient("outsider", nil, 8)
	for _, c := range []*Client{initiator, peer, outsider} {
		h.Register(c)
	}
	require.NoError(t, h.Join("initiator", n.NegotiationID))
	require.NoError(t, h.Join("peer", n.NegotiationID))
	require.NoError(t, h.Join("outsider", uuid.New()))

	h.Publish(messageEvent(t, n, 2400))
	h.Publish(messageEvent(t, n, 2300))

	for _, c := range []*Client{initiator, peer} {
		frames := drain(c)
		require.Len(t, frames, 2, c.ClientID)
		for i, want := range []string{"2400", "2300"} {
			assert.Equal(t, string(negotiation.EventNewMessage), frames[i].Event)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(frames[i].Data, &payload))
			assert.Equal(t, want, payload["offeredPrice"])
			assert.Equal(t, "farmer", payload["senderRole"])
		}
	}
	assert.Empty(t, drain(outsider))
}

func TestHub_SlowClientIsEvicted(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	n := newTestNegotiation(t)
	slow := NewClient("slow", nil, 1)
	fast := NewClient("fast", nil, 8)
	h.Register(slow)
	h.Register(fast)
	require.NoError(t, h.Join("slow", n.NegotiationID))
	require.NoError(t, h.Join("fast", n.NegotiationID))

	h.Publish(messageEvent(t, n, 2400))
	h.Publish(messageEvent(t, n, 2300))

	assert.Nil(t, h.GetClient("slow"))
	assert.Equal(t, 1, h.RoomSize(n.NegotiationID))
	frames := drain(slow)
	require.Len(t, frames, 1)
	assert.True(t, isClosed(slow))
	assert.Len(t, drain(fast), 2)
}

func TestHub_SignalSkipsSenderAndDropsWhenFull(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	room := uuid.New()
	sender := NewClient("sender", nil, 4)
	full := NewClient("full", nil, 1)
	h.Register(sender)
	h.Register(full)
	require.NoError(t, h.Join("sender", room))
	require.NoError(t, h.Join("full", room))

	frame, err := TypingFrame(negotiation.EventTyping, TypingPayload{NegotiationID: room, UserID: uuid.New()})
	require.NoError(t, err)

	h.Signal(room, "sender", frame)
	h.Signal(room, "sender", frame)

	assert.Empty(t, drain(sender))
	assert.Len(t, drain(full), 1)
	assert.NotNil(t, h.GetClient("full"))
}

func TestHub_ConcurrentPublishAndDisconnect(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	n := newTestNegotiation(t)
	events := make([]negotiation.Event, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, messageEvent(t, n, int64(2000+i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := uuid.NewString()
		c := NewClient(id, nil, 4)
		h.Register(c)
		require.NoError(t, h.Join(id, n.NegotiationID))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range c.Send {
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Unregister(c)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, ev := range events {
			h.Publish(ev)
		}
	}()
	wg.Wait()
	assert.Zero(t, h.GetClientCount())
}

func TestErrorFrame(t *testing.T) {
	id := uuid.New()
	f := ErrorFrame("send-message", &id, negotiation.ErrNotOpen)
	assert.Equal(t, EventError, f.Event)

	var p ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, negotiation.KindNotOpen, p.Kind)
	assert.False(t, p.Retryable)
	assert.Equal(t, "send-message", p.RequestEvent)
	require.NotNil(t, p.NegotiationID)
	assert.Equal(t, id, *p.NegotiationID)
}
