package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/infrastructure/realtime"
)

// Client-to-server realtime events.
const (
	eventJoin       = "join-negotiation"
	eventLeave      = "leave-negotiation"
	eventSend       = "send-message"
	eventAccept     = "accept-negotiation"
	eventDecline    = "decline-negotiation"
	eventTyping     = "typing"
	eventStopTyping = "stop-typing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomRequest struct {
	NegotiationID uuid.UUID `json:"negotiationId" validate:"required"`
}

type wsMessageRequest struct {
	NegotiationID uuid.UUID        `json:"negotiationId" validate:"required"`
	SenderID      uuid.UUID        `json:"senderId" validate:"required"`
	SenderRole    negotiation.Role `json:"senderRole" validate:"required,oneof=buyer farmer"`
	OfferedPrice  *decimal.Decimal `json:"offeredPrice,omitempty"`
	Note          *string          `json:"note,omitempty" validate:"omitempty,max=1000"`
}

type wsAcceptRequest struct {
	NegotiationID uuid.UUID        `json:"negotiationId" validate:"required"`
	AccepterID    uuid.UUID        `json:"accepterId" validate:"required"`
	AcceptedPrice *decimal.Decimal `json:"acceptedPrice,omitempty"`
}

type wsDeclineRequest struct {
	NegotiationID uuid.UUID `json:"negotiationId" validate:"required"`
	DeclinerID    uuid.UUID `json:"declinerId" validate:"required"`
}

type wsTypingRequest struct {
	NegotiationID uuid.UUID        `json:"negotiationId" validate:"required"`
	UserID        uuid.UUID        `json:"userId" validate:"required"`
	UserRole      negotiation.Role `json:"userRole,omitempty" validate:"omitempty,oneof=buyer farmer"`
}

// realtimeEndpoint upgrades to a websocket and serves the negotiation
// realtime channel on it.
func (s *Server) realtimeEndpoint(w http.ResponseWriter, r *http.Request) {
	var userID *uuid.UUID
	if v := r.URL.Query().Get("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid userId")
			return
		}
		userID = &id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewClient(uuid.NewString(), userID, s.opts.SendBuffer)
	s.hub.Register(client)

	sess := &wsSession{
		server: s,
		conn:   conn,
		client: client,
		logger: s.logger.With().Str("client_id", client.ClientID).Logger(),
	}
	sess.logger.Debug().Msg("realtime client connected")
	go sess.writePump()
	sess.readPump()
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	client *realtime.Client
	logger zerolog.Logger
}

// readPump handles client events one at a time until the connection drops.
// Each request is bounded by the request timeout. Leaving returns the
// client's rooms and abandons any request still waiting for its
// negotiation.
func (ws *wsSession) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		ws.server.hub.Unregister(ws.client)
		_ = ws.conn.Close()
		ws.logger.Debug().Msg("realtime client disconnected")
	}()

	ws.conn.SetReadLimit(maxMessageSize)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Debug().Err(err).Msg("realtime read failed")
			}
			return
		}
		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			ws.fail("", nil, fmt.Errorf("%w: malformed frame", negotiation.ErrValidation))
			continue
		}
		reqCtx, reqCancel := context.WithTimeout(ctx, ws.server.opts.RequestTimeout)
		ws.dispatch(reqCtx, in)
		reqCancel()
	}
}

// writePump is the only writer on the connection. It exits when the hub
// closes the client's send channel.
func (ws *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-ws.client.Send:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *wsSession) dispatch(ctx context.Context, in inboundFrame) {
	svc := ws.server.negotiationSvc
	hub := ws.server.hub
	clientID := ws.client.ClientID

	switch in.Event {
	case eventJoin:
		var req roomRequest
		if !ws.decode(in, &req) {
			return
		}
		if _, err := svc.Get(ctx, req.NegotiationID); err != nil {
			ws.fail(in.Event, &req.NegotiationID, err)
			return
		}
		if err := hub.Join(clientID, req.NegotiationID); err != nil {
			return
		}
		ws.reply(realtime.ControlFrame(realtime.EventJoined, req.NegotiationID))

	case eventLeave:
		var req roomRequest
		if !ws.decode(in, &req) {
			return
		}
		hub.Leave(clientID, req.NegotiationID)
		ws.reply(realtime.ControlFrame(realtime.EventLeft, req.NegotiationID))

	case eventSend:
		var req wsMessageRequest
		if !ws.decode(in, &req) {
			return
		}
		_, err := svc.AddMessage(ctx, appNegotiation.AddMessageInput{
			NegotiationID: req.NegotiationID,
			SenderID:      req.SenderID,
			SenderRole:    req.SenderRole,
			OfferedPrice:  req.OfferedPrice,
			Note:          req.Note,
		})
		ws.fail(in.Event, &req.NegotiationID, err)

	case eventAccept:
		var req wsAcceptRequest
		if !ws.decode(in, &req) {
			return
		}
		_, err := svc.Accept(ctx, req.NegotiationID, req.AccepterID, req.AcceptedPrice)
		ws.fail(in.Event, &req.NegotiationID, err)

	case eventDecline:
		var req wsDeclineRequest
		if !ws.decode(in, &req) {
			return
		}
		_, err := svc.Decline(ctx, req.NegotiationID, req.DeclinerID)
		ws.fail(in.Event, &req.NegotiationID, err)

	case eventTyping, eventStopTyping:
		var req wsTypingRequest
		if !ws.decode(in, &req) {
			return
		}
		if !hub.IsMember(clientID, req.NegotiationID) {
			ws.fail(in.Event, &req.NegotiationID, fmt.Errorf("%w: join the negotiation before signalling", negotiation.ErrNotAuthorized))
			return
		}
		t := negotiation.EventTyping
		if in.Event == eventStopTyping {
			t = negotiation.EventStopTyping
		}
		frame, err := realtime.TypingFrame(t, realtime.TypingPayload{
			NegotiationID: req.NegotiationID,
			UserID:        req.UserID,
			UserRole:      req.UserRole,
		})
		if err != nil {
			ws.fail(in.Event, &req.NegotiationID, err)
			return
		}
		hub.Signal(req.NegotiationID, clientID, frame)

	default:
		ws.fail(in.Event, nil, fmt.Errorf("%w: unknown event %q", negotiation.ErrValidation, in.Event))
	}
}

func (ws *wsSession) decode(in inboundFrame, v interface{}) bool {
	if len(in.Data) == 0 {
		ws.fail(in.Event, nil, fmt.Errorf("%w: missing data", negotiation.ErrValidation))
		return false
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		ws.fail(in.Event, nil, fmt.Errorf("%w: %v", negotiation.ErrValidation, err))
		return false
	}
	if err := ws.server.validate.Struct(v); err != nil {
		ws.fail(in.Event, nil, fmt.Errorf("%w: %s", negotiation.ErrValidation, validationMessage(err)))
		return false
	}
	return true
}

// fail answers a failed request with an error frame. A nil err is a no-op.
func (ws *wsSession) fail(event string, negotiationID *uuid.UUID, err error) {
	if err == nil {
		return
	}
	ws.logger.Debug().Err(err).Str("event", event).Msg("realtime request rejected")
	ws.reply(realtime.ErrorFrame(event, negotiationID, err))
}

// reply queues a frame for this client only. A client that cannot take the
// frame is disconnected rather than left with a missing reply.
func (ws *wsSession) reply(frame *realtime.Frame) {
	if err := ws.server.hub.SendToClient(ws.client.ClientID, frame); errors.Is(err, realtime.ErrChannelFull) {
		ws.logger.Warn().Str("event", frame.Event).Msg("send buffer full, disconnecting realtime client")
		ws.server.hub.Unregister(ws.client)
	}
}
