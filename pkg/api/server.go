// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes an arbitrated ad pool over HTTP for inspection and
// for consumers that cannot link the library directly.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/luxfi/adpool/pkg/ad"
	"github.com/luxfi/adpool/pkg/arbitrage"
	"github.com/luxfi/adpool/pkg/client"
	"github.com/luxfi/adpool/pkg/ids"
	"github.com/luxfi/adpool/pkg/log"
	"github.com/luxfi/adpool/pkg/metric"
	"github.com/luxfi/adpool/pkg/revenue"
)

const writeWait = 10 * time.Second

// Server serves the HTTP surface of one arbitrated pool
type Server struct {
	arb     *arbitrage.ListeningArbitrageur
	clients map[string]*client.Client
	stats   []*client.Client
	ledger  *revenue.Ledger
	metrics *metric.Metrics
	extras  arbitrage.ExtrasProvider
	log     log.Logger

	events   *broadcaster
	sink     *eventSink
	upgrader websocket.Upgrader

	// ads handed out through GetAd, so later calls can name them by id
	mu          sync.Mutex
	outstanding map[ids.ID]ad.Ad
}

type Option func(*Server)

func WithLedger(l *revenue.Ledger) Option {
	return func(s *Server) {
		s.ledger = l
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// WithExtras sets the extras used by POST /v1/fetch when the body has none
func WithExtras(extras arbitrage.ExtrasProvider) Option {
	return func(s *Server) {
		s.extras = extras
	}
}

// NewServer creates a server for arb. clients must be the clients behind
// arb; they are used for stats and revenue reporting.
func NewServer(arb *arbitrage.ListeningArbitrageur, clients []*client.Client, opts ...Option) *Server {
	s := &Server{
		arb:         arb,
		clients:     make(map[string]*client.Client, len(clients)),
		stats:       clients,
		log:         log.NoLog,
		events:      newBroadcaster(),
		outstanding: make(map[ids.ID]ad.Ad),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, c := range clients {
		s.clients[c.Network()] = c
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sink = &eventSink{b: s.events, now: time.Now}
	arb.AddAdLoadingListener(s.sink)
	arb.AddAdModerationListener(s.sink)
	arb.AddAdRevenueListener(s.sink)
	arb.AddAvailabilityListener(s.sink)

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Ads
	r.HandleFunc("/v1/ads/{requestID}", s.handleGetAd).Methods("GET")
	r.HandleFunc("/v1/ads/{adID}/release", s.handleRelease).Methods("POST")
	r.HandleFunc("/v1/ads/{adID}/rendered", s.handleRendered).Methods("POST")
	r.HandleFunc("/v1/fetch", s.handleFetch).Methods("POST")

	// Revenue
	r.HandleFunc("/v1/revenue", s.handleRevenue).Methods("GET")
	r.HandleFunc("/v1/revenue/{network}/settle", s.handleSettle).Methods("POST")

	// Inspection
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/v1/events", s.handleEvents).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetGatherer(), promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

// Close detaches from the arbitrageur and disconnects event subscribers
func (s *Server) Close() {
	s.arb.RemoveAdLoadingListener(s.sink)
	s.arb.RemoveAdModerationListener(s.sink)
	s.arb.RemoveAdRevenueListener(s.sink)
	s.arb.RemoveAvailabilityListener(s.sink)
	s.events.close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"available": s.arb.GetAvailableAdCount(),
	})
}

func (s *Server) handleGetAd(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestID"]

	a := s.arb.GetAd(requestID)
	if a == nil {
		writeError(w, http.StatusNotFound, "no ad available")
		return
	}

	s.mu.Lock()
	s.outstanding[a.ID()] = a
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ad.Summarize(a))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.outstanding, a.ID())
	s.mu.Unlock()

	s.arb.ReleaseAd(a)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// handleRendered records an impression. The first one also reports the
// ad's revenue as paid.
func (s *Server) handleRendered(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	first := a.MarkRendered()
	if first {
		if c, ok := s.clients[a.Info().Network]; ok {
			c.ReportRevenuePaid(a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rendered": true, "first": first})
}

type fetchRequest struct {
	Extras map[string]interface{} `json:"extras"`
}

type fetchResult struct {
	Network   string      `json:"network"`
	Attempted bool        `json:"attempted"`
	Ad        *ad.Summary `json:"ad,omitempty"`
	Error     string      `json:"error,omitempty"`
	TookMs    int64       `json:"took_ms,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	extras := s.extras

	var req fetchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fetch request")
			return
		}
	}
	if len(req.Extras) > 0 {
		local := make([]ad.Extra, 0, len(req.Extras))
		for k, v := range req.Extras {
			local = append(local, ad.Extra{Key: k, Value: v})
		}
		extras = func(string) []ad.Extra { return local }
	}

	results := s.arb.FetchAdIfNecessary(r.Context(), extras)

	sources := s.arb.Clients()
	out := make([]fetchResult, len(results))
	for i, res := range results {
		out[i].Network = sources[i].Network()
		if res == nil {
			continue
		}
		out[i].Attempted = true
		out[i].TookMs = res.Took.Milliseconds()
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		summary := ad.Summarize(res.Ad)
		out[i].Ad = &summary
	}

	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	Available   int                        `json:"available"`
	Clients     []client.Stats             `json:"clients"`
	Revenue     map[string]decimal.Decimal `json:"revenue,omitempty"`
	Total       *decimal.Decimal           `json:"revenue_total,omitempty"`
	Subscribers int                        `json:"event_subscribers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Available:   s.arb.GetAvailableAdCount(),
		Clients:     make([]client.Stats, 0, len(s.stats)),
		Subscribers: s.events.subscribers(),
	}
	for _, c := range s.stats {
		resp.Clients = append(resp.Clients, c.Snapshot())
	}
	if s.ledger != nil {
		resp.Revenue = s.ledger.Totals()
		total := s.ledger.GrandTotal()
		resp.Total = &total
	}

	writeJSON(w, http.StatusOK, resp)
}

type revenueResponse struct {
	Pending     map[string]decimal.Decimal `json:"pending"`
	Receipts    []revenue.Receipt          `json:"receipts"`
	Settlements []revenue.Settlement       `json:"settlements"`
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "no revenue ledger")
		return
	}

	resp := revenueResponse{
		Pending:     make(map[string]decimal.Decimal),
		Receipts:    s.ledger.Receipts(),
		Settlements: s.ledger.Settlements(),
	}
	for network := range s.clients {
		if pending := s.ledger.Pending(network); !pending.IsZero() {
			resp.Pending[network] = pending
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSettle closes the pending revenue of one network
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "no revenue ledger")
		return
	}

	network := mux.Vars(r)["network"]
	if _, ok := s.clients[network]; !ok {
		writeError(w, http.StatusNotFound, "unknown network")
		return
	}

	settlement, err := s.ledger.Settle(network, time.Now().UTC())
	if errors.Is(err, revenue.ErrNothingPending) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// handleEvents streams listener events to a websocket until either side
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", log.Error(err))
		return
	}
	defer conn.Close()

	ch, ok := s.events.subscribe()
	if !ok {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer s.events.unsubscribe(ch)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (ad.Ad, bool) {
	id, err := ids.FromString(mux.Vars(r)["adID"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ad id")
		return nil, false
	}

	s.mu.Lock()
	a, ok := s.outstanding[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown ad")
		return nil, false
	}
	return a, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
