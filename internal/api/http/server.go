package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	appNegotiation "github.com/agri-market/agri-market/internal/application/negotiation"
	appOrder "github.com/agri-market/agri-market/internal/application/order"
	"github.com/agri-market/agri-market/internal/domain/negotiation"
	"github.com/agri-market/agri-market/internal/infrastructure/realtime"
)

// Options tunes the HTTP and realtime surfaces.
type Options struct {
	RequestTimeout time.Duration
	SendBuffer     int
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc *appNegotiation.Service
	orderSvc       *appOrder.Service
	hub            *realtime.Hub
	validate       *validator.Validate
	upgrader       websocket.Upgrader
	opts           Options
	logger         zerolog.Logger
}

func NewServer(
	negotiationSvc *appNegotiation.Service,
	orderSvc *appOrder.Service,
	hub *realtime.Hub,
	opts Options,
	logger zerolog.Logger,
) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = realtime.DefaultSendBuffer
	}
	s := &Server{
		negotiationSvc: negotiationSvc,
		orderSvc:       orderSvc,
		hub:            hub,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		opts:           opts,
		logger:         logger.With().Str("component", "http").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Long-lived streams stay outside the request timeout.
		r.Get("/realtime", s.realtimeEndpoint)

		r.Route("/negotiations", func(r chi.Router) {
			r.Get("/{negotiationId}/events", s.negotiationEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.opts.RequestTimeout))
				r.Post("/", s.createNegotiation)
				r.Get("/{negotiationId}", s.getNegotiation)
				r.Post("/{negotiationId}/messages", s.addMessage)
				r.Post("/{negotiationId}/accept", s.acceptNegotiation)
				r.Post("/{negotiationId}/decline", s.declineNegotiation)
				r.Post("/{negotiationId}/finalize", s.finalizeNegotiation)
				r.Get("/{negotiationId}/final-price", s.getFinalPrice)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))

			r.Get("/buyers/{buyerId}/negotiations", s.listBuyerNegotiations)
			r.Get("/farmers/{farmerId}/negotiations", s.listFarmerNegotiations)
			r.Get("/buyers/{buyerId}/orders", s.listBuyerOrders)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", s.placeOrder)
				r.Get("/{orderId}", s.getOrder)
			})
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"realtime_clients": s.hub.GetClientCount(),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps an error kind onto its HTTP status.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := negotiation.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	switch kind {
	case negotiation.KindStoreTimeout:
		w.Header().Set("Retry-After", "1")
	case negotiation.KindInternal:
		s.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	respondError(w, status, string(kind), msg)
}

func statusForKind(kind negotiation.Kind) int {
	switch kind {
	case negotiation.KindNotFound:
		return http.StatusNotFound
	case negotiation.KindValidation:
		return http.StatusBadRequest
	case negotiation.KindNotAuthorized:
		return http.StatusForbidden
	case negotiation.KindNotOpen, negotiation.KindSelfAcceptance, negotiation.KindSelfDecline,
		negotiation.KindNotAccepted, negotiation.KindStoreConflict:
		return http.StatusConflict
	case negotiation.KindStoreTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeAndValidate decodes the JSON body into v and runs its validate tags.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeBody(r, v); err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, string(negotiation.KindValidation), validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			parts = append(parts, fe.Field()+" failed "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
