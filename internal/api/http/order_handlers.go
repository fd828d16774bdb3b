package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	appOrder "github.com/agri-market/agri-market/internal/application/order"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/domain/order"
)

type orderCreateRequest struct {
	BuyerID       uuid.UUID           `json:"buyerId" validate:"required"`
	ProductID     uuid.UUID           `json:"productId" validate:"required"`
	Quantity      int                 `json:"quantity" validate:"required,gt=0"`
	NegotiationID *uuid.UUID          `json:"negotiationId,omitempty"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod,omitempty" validate:"omitempty,oneof=cash-on-delivery online-payment bank-transfer"`
	Notes         *string             `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	o, err := s.orderSvc.PlaceOrder(r.Context(), appOrder.PlaceOrderInput{
		BuyerID:       req.BuyerID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		NegotiationID: req.NegotiationID,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "orderId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid orderId")
		return
	}
	o, err := s.orderSvc.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	buyerID, err := parseUUIDParam(r, "buyerId")
	if err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid buyerId")
		return
	}
	limit, offset := parseLimitOffset(r, appNegotiation.DefaultPageSize, appNegotiation.MaxPageSize)
	items, err := s.orderSvc.ListForBuyer(r.Context(), buyerID, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"orders": items,
		"limit":  limit,
		"offset": offset,
	})
}
