package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/pawchat/internal/auth"
	"github.com/npezzotti/pawchat/internal/config"
	"github.com/npezzotti/pawchat/internal/server"
	"github.com/npezzotti/pawchat/internal/stats"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/rs/zerolog"
)

const apiPrefix = "/api/v1"

// ChatService is the part of the chat subsystem exposed over HTTP.
type ChatService interface {
	GetOrCreateRoom(ctx context.Context, userA, userB int64) (types.Room, error)
	ListRoomsForUser(ctx context.Context, userId int64) ([]types.RoomSummary, error)
	RecentMessages(ctx context.Context, userId, roomId int64, limit int) ([]types.Message, error)
	MarkRead(ctx context.Context, userId, roomId int64) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type GoChatApp struct {
	log            zerolog.Logger
	db             Pinger
	chat           ChatService
	srv            *http.Server
	cs             *server.ChatServer
	verifier       auth.Verifier
	stats          stats.StatsProvider
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewGoChatApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, svc ChatService, db Pinger, verifier auth.Verifier, sp stats.StatsProvider, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		chat:           svc,
		cs:             cs,
		verifier:       verifier,
		stats:          sp,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.Handle("POST "+apiPrefix+"/chat/room", s.authMiddleware(s.createRoom))
	mux.Handle("GET "+apiPrefix+"/chat/rooms", s.authMiddleware(s.getRooms))
	mux.Handle("GET "+apiPrefix+"/chat/room/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST "+apiPrefix+"/chat/room/{id}/read", s.authMiddleware(s.markRead))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.With().Str("component", "access").Logger(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// checkOrigin only allows browser connections from allowed origins.
func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
