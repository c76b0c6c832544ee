package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kjannette/bitmage-backend/internal/game"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/repository"
)

const (
	maxQueryLimit = 1000
	maxBodyBytes  = 1 << 16
)

type Options struct {
	Port         int
	CORSOrigin   string
	Pool         *pgxpool.Pool     // nil disables the points API
	StaticTokens map[string]string // token -> user id
}

type Server struct {
	game       *game.Service
	pool       *pgxpool.Pool
	users      *repository.UserRepo
	tokens     TokenResolver
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        zerolog.Logger
	now        func() time.Time
}

func NewServer(svc *game.Service, opts Options) *Server {
	s := &Server{
		game: svc,
		pool: opts.Pool,
		log:  logging.For("api"),
		now:  time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	var resolvers chainResolver
	if len(opts.StaticTokens) > 0 {
		resolvers = append(resolvers, StaticTokens(opts.StaticTokens))
	}
	if opts.Pool != nil {
		s.users = repository.NewUserRepo(opts.Pool)
		resolvers = append(resolvers, &repoResolver{users: s.users})
	}
	if len(resolvers) > 0 {
		s.tokens = resolvers
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.routes(opts.CORSOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Price feed
	mux.HandleFunc("GET /v1/price", s.handlePrice)
	mux.HandleFunc("GET /v1/chart/{period}", s.handleChart)

	// Prediction round
	mux.HandleFunc("GET /v1/round", s.handleRound)
	mux.HandleFunc("POST /v1/round/arm", s.handleArm)
	mux.HandleFunc("POST /v1/round", s.handleConfirm)

	// Notifications
	mux.HandleFunc("GET /v1/notifications", s.handleNotifications)
	mux.HandleFunc("DELETE /v1/notifications/{id}", s.handleDismiss)
	mux.HandleFunc("DELETE /v1/notifications", s.handleClearNotifications)

	// Session balance, claims and history
	mux.HandleFunc("GET /v1/balance", s.handleSessionBalance)
	mux.HandleFunc("POST /v1/claims/daily", s.handleSessionClaimDaily)
	mux.HandleFunc("GET /v1/claims/streak", s.handleSessionStreak)
	mux.HandleFunc("POST /v1/claims/streak", s.handleSessionClaimStreak)
	mux.HandleFunc("POST /v1/claims/tier/{tier}", s.handleSessionClaimTier)
	mux.HandleFunc("GET /v1/ledger", s.handleLedger)

	// Live updates
	mux.HandleFunc("GET /v1/ws", s.handleWS)

	// Points API (Postgres)
	mux.HandleFunc("POST /v1/users", s.handleRegister)
	mux.HandleFunc("DELETE /v1/user", s.handleDeleteUser)
	mux.HandleFunc("GET /v1/user/profile", s.handleProfile)
	mux.HandleFunc("POST /v1/user/balance", s.handleUpdateBalance)
	mux.HandleFunc("POST /v1/user/claim-daily", s.handleClaimDaily)
	mux.HandleFunc("POST /v1/user/predictions", s.handleRecordPrediction)
	mux.HandleFunc("GET /v1/user/prediction-stats", s.handlePredictionStats)
	mux.HandleFunc("GET /v1/user/streak", s.handleStreak)
	mux.HandleFunc("POST /v1/user/streak/claim", s.handleClaimStreak)
	mux.HandleFunc("GET /v1/user/tiers", s.handleTiers)
	mux.HandleFunc("POST /v1/user/tiers/{tier}/claim", s.handleClaimTier)
	mux.HandleFunc("POST /v1/user/devices", s.handleRegisterDevice)
	mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)

	return corsMiddleware(s.authMiddleware(mux), corsOrigin)
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("REST API server started")
	if s.tokens != nil {
		s.log.Info().Msg("authentication: enabled (Bearer token)")
	} else {
		s.log.Warn().Msg("authentication: disabled, callers pick their user with X-User-ID")
	}
	if s.users == nil {
		s.log.Warn().Msg("points API disabled (no database)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

type ctxKey struct{}

// publicRoute reports whether a request may skip authentication.
func publicRoute(r *http.Request) bool {
	return r.URL.Path == "/health" ||
		(r.Method == http.MethodPost && r.URL.Path == "/v1/users")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}
		if s.tokens == nil {
			id := game.Identity{UserID: r.Header.Get("X-User-ID")}
			if id.UserID == "" {
				id.UserID = "guest"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		id, err := s.tokens.Resolve(r.Context(), token)
		if err != nil {
			s.log.Error().Err(err).Msg("token lookup failed")
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}
		if id == nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, *id)))
	})
}

// bearerToken reads the Authorization header, or the token query parameter
// on websocket upgrades where browsers cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if websocket.IsWebSocketUpgrade(r) {
			if t := r.URL.Query().Get("token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth || token == "" {
		return "", true
	}
	return token, true
}

func identityFrom(ctx context.Context) (game.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(game.Identity)
	return id, ok
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- session helpers ---

// session returns the caller's game session, writing an error response when
// there is none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*game.Session, bool) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return nil, false
	}
	sess, err := s.game.Session(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return sess, true
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var errNoDatabase = errors.New("points API requires a database")
