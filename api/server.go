// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves the replicated ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luxfi/lending-indexer/feed"
	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/storage"
)

// Store is what the API reads; *storage.Unified implements it.
type Store interface {
	ledger.Store
	List(ctx context.Context, kind, prefix string, limit int) ([]json.RawMessage, error)
	GetMeta(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// Config for the API server
type Config struct {
	Listen  string
	Version string
}

// Server provides the read-only REST API
type Server struct {
	config Config
	store  Store
	router *mux.Router
	log    *zap.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// NewServer creates a new API server
func NewServer(cfg Config, store Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config: cfg,
		store:  store,
		router: mux.NewRouter(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/protocol", entity[ledger.Protocol](s, ledger.KindProtocol, fixedID(ledger.ProtocolID))).Methods("GET")
	api.HandleFunc("/pools/{id}", entity[ledger.Pool](s, ledger.KindPool, pathID)).Methods("GET")
	api.HandleFunc("/reserves/{id}", entity[ledger.Reserve](s, ledger.KindReserve, pathID)).Methods("GET")
	api.HandleFunc("/reserves/{id}/history", s.handleReserveHistory).Methods("GET")
	api.HandleFunc("/users/{id}", entity[ledger.User](s, ledger.KindUser, pathID)).Methods("GET")
	api.HandleFunc("/user-reserves/{id}", entity[ledger.UserReserve](s, ledger.KindUserReserve, pathID)).Methods("GET")
	api.HandleFunc("/user-reserves/{id}/history", s.handleBalanceHistory).Methods("GET")
	api.HandleFunc("/sub-tokens/{id}", entity[ledger.SubToken](s, ledger.KindSubToken, pathID)).Methods("GET")
	api.HandleFunc("/price-oracle", entity[ledger.PriceOracle](s, ledger.KindPriceOracle, fixedID(ledger.PriceOracleID))).Methods("GET")
	api.HandleFunc("/price-oracle/assets/{id}", entity[ledger.PriceOracleAsset](s, ledger.KindPriceOracleAsset, pathID)).Methods("GET")
	api.HandleFunc("/checkpoint", s.handleCheckpoint).Methods("GET")
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("api server starting", zap.String("listen", s.config.Listen))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Message: message})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

type idFunc func(*http.Request) string

// pathID lowercases the {id} route variable; every ledger id is built from
// lowercase hex.
func pathID(r *http.Request) string {
	return strings.ToLower(mux.Vars(r)["id"])
}

func fixedID(id string) idFunc {
	return func(*http.Request) string { return id }
}

func entity[T any](s *Server, kind string, id idFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := ledger.Get[T](r.Context(), s.store, kind, id(r))
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if v == nil {
			s.writeError(w, http.StatusNotFound, kind+" not found")
			return
		}
		s.writeJSON(w, http.StatusOK, v)
	}
}

func getLimit(r *http.Request) int {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return limit
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.config.Version,
	})
}

type historyKey struct {
	ID          string `json:"id"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   uint64 `json:"timestamp"`
}

// history lists the items of the given kinds whose id starts with
// entityID, ordered by block then id, and keeps the newest limit items.
func (s *Server) history(ctx context.Context, entityID string, limit int, kinds ...string) ([]json.RawMessage, error) {
	type keyed struct {
		key historyKey
		raw json.RawMessage
	}
	var items []keyed
	for _, kind := range kinds {
		raws, err := s.store.List(ctx, kind, entityID+":", 0)
		if err != nil {
			return nil, err
		}
		for _, raw := range raws {
			var k historyKey
			if err := json.Unmarshal(raw, &k); err != nil {
				return nil, err
			}
			items = append(items, keyed{key: k, raw: raw})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].key, items[j].key
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.ID < b.ID
	})
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = it.raw
	}
	return out, nil
}

func (s *Server) handleReserveHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.history(r.Context(), pathID(r), getLimit(r), ledger.KindReserveParamsHistory)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

var balanceHistoryKinds = map[ledger.Instrument]string{
	ledger.InstrumentAToken: ledger.KindATokenBalanceHistory,
	ledger.InstrumentVToken: ledger.KindVTokenBalanceHistory,
	ledger.InstrumentSToken: ledger.KindSTokenBalanceHistory,
}

func (s *Server) handleBalanceHistory(w http.ResponseWriter, r *http.Request) {
	kinds := []string{ledger.KindATokenBalanceHistory, ledger.KindVTokenBalanceHistory, ledger.KindSTokenBalanceHistory}
	if inst := r.URL.Query().Get("instrument"); inst != "" {
		kind, ok := balanceHistoryKinds[ledger.Instrument(inst)]
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown instrument "+inst)
			return
		}
		kinds = []string{kind}
	}
	items, err := s.history(r.Context(), pathID(r), getLimit(r), kinds...)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.GetMeta(r.Context(), feed.CheckpointKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no checkpoint")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, json.RawMessage(raw))
}
