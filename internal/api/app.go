package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/dkarlsen/go-chatrelay/internal/config"
	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/server"
	"github.com/dkarlsen/go-chatrelay/internal/service"
	"github.com/dkarlsen/go-chatrelay/internal/stats"
	"github.com/gorilla/handlers"
)

type ChatRelayApp struct {
	log            *log.Logger
	db             database.ChatRepository
	conversations  *service.ConversationService
	cs             *server.ChatServer
	stats          stats.StatsProvider
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewChatRelayApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, conversations *service.ConversationService, statsProvider stats.StatsProvider, cfg *config.Config) *ChatRelayApp {
	s := &ChatRelayApp{
		log:            logger,
		db:             db,
		conversations:  conversations,
		cs:             cs,
		stats:          statsProvider,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("PUT /api/conversations/{id}", s.authMiddleware(s.renameConversation))
	mux.Handle("DELETE /api/conversations/{id}", s.authMiddleware(s.deleteConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatRelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatRelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
