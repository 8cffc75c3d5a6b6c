// Package server hosts the live chat WebSocket backend.
//
// The server owns the transport boundary only: it validates frames, fans
// events out to connected peers, and delegates conversation and message
// persistence to the storage layer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/aeriallens/livechat/internal/platform/timeouts"
	"github.com/aeriallens/livechat/internal/services/chat/storage"
	"github.com/aeriallens/livechat/internal/services/chat/storage/memory"
	"github.com/aeriallens/livechat/internal/services/chat/storage/sqlite"
)

// defaultActiveWindow bounds which conversations count as active for the
// admin console. Conversations idle longer than this are omitted from the
// registry list even though their history stays queryable by id.
const defaultActiveWindow = 24 * time.Hour

// Config defines the inputs for the chat transport boundary.
type Config struct {
	HTTPAddr          string
	StoragePath       string
	AdminJWTSecret    string
	ActiveWindow      time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           storage.Store
}

// NewHandler creates chat routes for tests and offline paths.
// Admin token checks are intentionally disabled in this constructor and
// state lives in memory.
func NewHandler() http.Handler {
	return newHandler(memory.New(), nil, defaultActiveWindow)
}

// NewHandlerWithAuthorizer creates chat routes with enforced admin identity
// checks on join-admin, backed by the given store.
func NewHandlerWithAuthorizer(store storage.Store, authorizer AdminAuthorizer, activeWindow time.Duration) http.Handler {
	return newHandler(store, authorizer, activeWindow)
}

func newHandler(store storage.Store, authorizer AdminAuthorizer, activeWindow time.Duration) http.Handler {
	handler := newChatHandler(store, authorizer, activeWindow)

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(handler.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// NewServer builds a configured chat server.
//
// An empty StoragePath selects the in-memory store, which is only suitable
// for local development.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = defaultActiveWindow
	}

	var store storage.Store
	if path := strings.TrimSpace(config.StoragePath); path != "" {
		sqliteStore, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open chat storage: %w", err)
		}
		store = sqliteStore
	} else {
		log.Printf("chat storage path is empty, using in-memory store")
		store = memory.New()
	}

	authorizer := newJWTAuthorizer(config.AdminJWTSecret)
	if authorizer == nil {
		log.Printf("admin jwt secret is empty, join-admin auth disabled")
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(store, authorizer, config.ActiveWindow),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close chat storage: %v", err)
		}
	}
}
