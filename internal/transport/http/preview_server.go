// Package httpserver serves the preview page and pushes updates to browsers
// over websockets on the same port.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// PageSource renders the complete page for one request.
type PageSource interface {
	RenderPage(ctx context.Context) ([]byte, error)
}

// PreviewServer answers websocket upgrades by registering the connection
// with the hub and every other request with the assembled page.
type PreviewServer struct {
	hub    *Hub
	pages  PageSource
	logger *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader
}

// NewPreviewServer creates a preview server that delivers updates through hub.
func NewPreviewServer(hub *Hub, pages PageSource, logger *slog.Logger) *PreviewServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &PreviewServer{
		hub:    hub,
		pages:  pages,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler has no routing beyond "is this an upgrade request". chi only
// routes the standard methods to "/*"; everything else lands in its
// NotFound and MethodNotAllowed handlers, which serve the page too.
func (s *PreviewServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.HandleFunc("/*", s.handle)
	r.NotFound(s.handle)
	r.MethodNotAllowed(s.handle)
	return r
}

// Serve accepts connections on ln until Shutdown.
func (s *PreviewServer) Serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the listener and waits for in-flight page requests.
// Hijacked websocket connections are owned by the hub and closed there.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *PreviewServer) handle(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	s.handleIndex(w, r)
}

// handleIndex renders the page fresh for every request.
func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	body, err := s.pages.RenderPage(r.Context())
	if err != nil {
		s.logger.Error("render page", "error", err)
		http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleWS upgrades the connection and keeps it registered until the browser
// goes away. Browser messages are read only to notice the close.
func (s *PreviewServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := wsConn{conn: conn}
	s.hub.Register(c)
	defer s.hub.Unregister(c)

	// Block here until the connection closes / errors outs
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
