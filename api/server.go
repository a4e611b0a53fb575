// Package api exposes the desk's state over HTTP for dashboard clients:
// read-only prices, positions, trades, and portfolio valuation, plus the
// order-entry endpoint and a tick-streaming WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"fxdesk/internal/metrics"
	"fxdesk/pkg/instrument"
	"fxdesk/pkg/market"
	"fxdesk/pkg/portfolio"
)

type Server struct {
	feed    *market.Feed
	ledger  *portfolio.Ledger
	reg     *instrument.Registry
	hub     *Hub
	logger  *logrus.Logger
	port    int
	limiter *rate.Limiter
}

func NewServer(feed *market.Feed, ledger *portfolio.Ledger, reg *instrument.Registry, hub *Hub, logger *logrus.Logger, port int, orderRate float64, orderBurst int) *Server {
	return &Server{
		feed:    feed,
		ledger:  ledger,
		reg:     reg,
		hub:     hub,
		logger:  logger,
		port:    port,
		limiter: rate.NewLimiter(rate.Limit(orderRate), orderBurst),
	}
}

// Router builds the HTTP handler. Exposed separately from Start for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handlePrices)
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/portfolio", s.handlePortfolio)
		r.Post("/orders", s.handlePlaceOrder)
		if s.hub != nil {
			r.Get("/stream", s.hub.HandleWS)
		}
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %d", s.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", s.port), s.Router())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.feed.Status())
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.feed.LastPrices())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Positions())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	s.writeJSON(w, http.StatusOK, s.ledger.Trades(limit))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	prices := make(map[string]float64)
	for _, t := range s.feed.LastPrices() {
		prices[t.Symbol] = t.Price
	}

	summary := portfolio.Summarize(s.ledger.Cash(), s.ledger.Positions(), portfolio.PriceMap(prices))
	s.writeJSON(w, http.StatusOK, summary)
}

// orderRequest is the JSON body for POST /api/v1/orders. Quantity sign
// selects the side (positive = buy, negative = sell). Price is optional;
// when omitted the desk fills it from the last known price.
type orderRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, "too many orders", http.StatusTooManyRequests)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, ok := s.reg.Lookup(req.Symbol); !ok {
		s.writeError(w, "unknown instrument: "+req.Symbol, http.StatusNotFound)
		return
	}

	price := req.Price
	if price.IsZero() {
		last, ok := s.feed.LastPrice(req.Symbol)
		if !ok {
			s.writeError(w, "no price available for "+req.Symbol, http.StatusUnprocessableEntity)
			return
		}
		price = decimal.NewFromFloat(last)
	}

	trade, err := s.ledger.Execute(req.Symbol, req.Quantity, price)
	if err != nil {
		metrics.OrderRejections.Inc()
		switch {
		case errors.Is(err, portfolio.ErrInvalidPrice), errors.Is(err, portfolio.ErrZeroQuantity):
			s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			s.writeError(w, "order failed", http.StatusInternalServerError)
		}
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(trade.Side)).Inc()
	s.logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"side":     trade.Side,
		"quantity": trade.Quantity.String(),
		"price":    trade.Price.String(),
	}).Info("order executed")

	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
