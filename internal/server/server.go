package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"xox/internal/engine"
	"xox/internal/game"
	"xox/internal/storage"
)

const leaderboardSize = 10

// Options carries the settings the HTTP layer reports or enforces.
type Options struct {
	DBPath             string
	Env                string
	DeployMarker       string
	NFTSupply          int
	SubscriptionPeriod time.Duration
	AllowedOrigins     []string // websocket origin patterns
	Now                func() time.Time
}

// Server is the HTTP server.
type Server struct {
	mux      *http.ServeMux
	store    *storage.Store
	engine   *engine.Engine
	variants *game.Registry
	log      *zap.Logger
	opts     Options
}

// New creates a server with all routes.
func New(store *storage.Store, eng *engine.Engine, variants *game.Registry, logger *zap.Logger, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		mux:      http.NewServeMux(),
		store:    store,
		engine:   eng,
		variants: variants,
		log:      logger.Named("server"),
		opts:     opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/variants", s.handleListVariants)
	s.mux.HandleFunc("GET /api/rankings", s.handleRankings)
	s.mux.HandleFunc("GET /api/user/{address}", s.handleGetUser)
	s.mux.HandleFunc("GET /api/user/{address}/games", s.handleUserGames)
	s.mux.HandleFunc("POST /api/user/subscribe", s.handleSubscribe)
	s.mux.HandleFunc("POST /api/user/referral", s.handleReferral)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("/api/", s.handleAPINotFound)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status   string      `json:"status"`
	DBPath   string      `json:"dbPath"`
	Env      string      `json:"env"`
	Queued   map[int]int `json:"queued"`
	Sessions int         `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", DBPath: s.opts.DBPath, Env: s.opts.Env}
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		s.log.Warn("health: engine stats", zap.Error(err))
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Queued = st.Queued
	resp.Sessions = st.Sessions
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "marker": s.opts.DeployMarker})
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.variants.List())
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	board, err := s.store.Leaderboard(r.Context(), leaderboardSize)
	if err != nil {
		s.internalError(w, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// userResponse is the user row plus its leaderboard position, or "--" for
// a user seen for the first time.
type userResponse struct {
	storage.User
	Rank any `json:"rank"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.PathValue("address"))
	ctx := r.Context()

	created, err := s.store.EnsureUser(ctx, address)
	if err != nil {
		s.internalError(w, "ensure user", err)
		return
	}
	u, err := s.store.GetUser(ctx, address)
	if err != nil {
		s.internalError(w, "get user", err)
		return
	}
	resp := userResponse{User: *u, Rank: "--"}
	if !created {
		rank, err := s.store.Rank(ctx, address)
		if err != nil {
			s.internalError(w, "rank", err)
			return
		}
		resp.Rank = rank
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.store.RecentGames(r.Context(), r.PathValue("address"), leaderboardSize)
	if err != nil {
		s.internalError(w, "recent games", err)
		return
	}
	if games == nil {
		games = []storage.GameRecord{}
	}
	writeJSON(w, http.StatusOK, games)
}

type subscribeRequest struct {
	Address string `json:"address"`
}

type subscribeResponse struct {
	Success bool  `json:"success"`
	Expiry  int64 `json:"expiry"` // unix millis
	HasNFT  bool  `json:"hasNft"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address required"})
		return
	}
	ctx := r.Context()

	if _, err := s.store.EnsureUser(ctx, req.Address); err != nil {
		s.internalError(w, "ensure user", err)
		return
	}
	expiry := s.opts.Now().Add(s.opts.SubscriptionPeriod)
	hasNFT, err := s.store.Subscribe(ctx, req.Address, expiry, s.opts.NFTSupply)
	if err != nil {
		s.internalError(w, "subscribe", err)
		return
	}
	s.log.Info("subscribed", zap.String("address", req.Address), zap.Bool("nft", hasNFT))
	writeJSON(w, http.StatusOK, subscribeResponse{Success: true, Expiry: expiry.UnixMilli(), HasNFT: hasNFT})
}

type referralRequest struct {
	Address  string `json:"address"`
	Referrer string `json:"referrer"`
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	req.Referrer = strings.TrimSpace(req.Referrer)
	if req.Address == "" || req.Referrer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address and referrer required"})
		return
	}
	ctx := r.Context()

	if _, err := s.store.EnsureUser(ctx, req.Address); err != nil {
		s.internalError(w, "ensure user", err)
		return
	}
	err := s.store.SetReferrer(ctx, req.Address, req.Referrer)
	switch {
	case errors.Is(err, storage.ErrSelfReferral):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Cannot refer yourself"})
	case errors.Is(err, storage.ErrReferrerSet):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Referrer already set"})
	case err != nil:
		s.internalError(w, "set referrer", err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.Sessions(r.Context())
	if err != nil {
		s.internalError(w, "list sessions", err)
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok, err := s.engine.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "session lookup", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "API route not found"})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
