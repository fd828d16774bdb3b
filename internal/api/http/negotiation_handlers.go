package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/infrastructure/realtime"
)

type negotiationCreateRequest struct {
	ProductID    uuid.UUID        `json:"productId" validate:"required"`
	BuyerID      uuid.UUID        `json:"buyerId" validate:"required"`
	Quantity     int              `json:"quantity" validate:"required,gt=0"`
	OfferedPrice *decimal.Decimal `json:"offeredPrice,omitempty"`
	Note         *string          `json:"note,omitempty" validate:"omitempty,max=1000"`
}

type messageCreateRequest struct {
	SenderID     uuid.UUID        `json:"senderId" validate:"required"`
	SenderRole   negotiation.Role `json:"senderRole" validate:"required,oneof=buyer farmer"`
	OfferedPrice *decimal.Decimal `json:"offeredPrice,omitempty"`
	Note         *string          `json:"note,omitempty" validate:"omitempty,max=1000"`
}

type acceptRequest struct {
	AccepterID    uuid.UUID        `json:"accepterId" validate:"required"`
	AcceptedPrice *decimal.Decimal `json:"acceptedPrice,omitempty"`
}

type declineRequest struct {
	DeclinerID uuid.UUID `json:"declinerId" validate:"required"`
}

func (s *Server) createNegotiation(w http.ResponseWriter, r *http.Request) {
	var req negotiationCreateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.negotiationSvc.Create(r.Context(), appNegotiation.CreateInput{
		ProductID:    req.ProductID,
		BuyerID:      req.BuyerID,
		Quantity:     req.Quantity,
		OfferedPrice: req.OfferedPrice,
		Note:         req.Note,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	n, err := s.negotiationSvc.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	var req messageCreateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.negotiationSvc.AddMessage(r.Context(), appNegotiation.AddMessageInput{
		NegotiationID: id,
		SenderID:      req.SenderID,
		SenderRole:    req.SenderRole,
		OfferedPrice:  req.OfferedPrice,
		Note:          req.Note,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	var req acceptRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.negotiationSvc.Accept(r.Context(), id, req.AccepterID, req.AcceptedPrice)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) declineNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	var req declineRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.negotiationSvc.Decline(r.Context(), id, req.DeclinerID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) finalizeNegotiation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	n, err := s.negotiationSvc.Finalize(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) getFinalPrice(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	price, err := s.negotiationSvc.GetFinalPrice(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"negotiationId": id,
		"finalPrice":    price,
	})
}

func (s *Server) listBuyerNegotiations(w http.ResponseWriter, r *http.Request) {
	buyerID, err := parseUUIDParam(r, "buyerId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid buyerId")
		return
	}
	limit, offset := parseLimitOffset(r, appNegotiation.DefaultPageSize, appNegotiation.MaxPageSize)
	items, err := s.negotiationSvc.ListForBuyer(r.Context(), buyerID, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"negotiations": items,
		"limit":        limit,
		"offset":       offset,
	})
}

func (s *Server) listFarmerNegotiations(w http.ResponseWriter, r *http.Request) {
	farmerID, err := parseUUIDParam(r, "farmerId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid farmerId")
		return
	}
	limit, offset := parseLimitOffset(r, appNegotiation.DefaultPageSize, appNegotiation.MaxPageSize)
	items, err := s.negotiationSvc.ListForFarmer(r.Context(), farmerID, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"negotiations": items,
		"limit":        limit,
		"offset":       offset,
	})
}

// negotiationEvents streams one negotiation's room over server-sent events.
func (s *Server) negotiationEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid negotiationId")
		return
	}
	if _, err := s.negotiationSvc.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, string(negotiation.KindInternal), "streaming not supported")
		return
	}

	client := realtime.NewClient("sse-"+uuid.NewString(), nil, s.opts.SendBuffer)
	s.hub.Register(client)
	defer s.hub.Unregister(client)
	if err := s.hub.Join(client.ClientID, id); err != nil {
		respondError(w, http.StatusInternalServerError, string(negotiation.KindInternal), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case frame, ok := <-client.Send:
			if !ok {
				return
			}
			payload, _ := json.Marshal(frame)
			_, _ = w.Write([]byte("event: " + frame.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
