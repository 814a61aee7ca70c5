// Package livereload serves the build output over HTTP and tells
// connected browsers to refresh after a rebuild.
//
// Browsers connect to a websocket endpoint through a small client script
// that the server injects into every HTML page. A "full" notification
// reloads the page; a "css-only" notification re-fetches the page's
// stylesheets in place.
package livereload

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/dispatch"
	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
	"github.com/hupe1980/assetpipe/internal/task"
)

// Kind selects how browsers refresh.
type Kind string

// Reload kinds.
const (
	Full    Kind = "full"
	CSSOnly Kind = "css-only"
)

// Endpoint paths served next to the output files.
const (
	SocketPath = "/__livereload"
	ScriptPath = "/__livereload/client.js"
)

const shutdownTimeout = 5 * time.Second

//go:embed client.js
var clientScript []byte

// Options configures the server.
type Options struct {
	// Addr is the host:port to listen on. Port 0 picks a free port.
	Addr string

	// NoInject disables injecting the client script into HTML pages.
	NoInject bool
}

// Server is the development server and live reload notifier.
type Server struct {
	root   string
	opts   Options
	logger *slog.Logger

	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	clients  map[*client]struct{}
	srv      *http.Server
	listener net.Listener
	serveErr chan error
}

// New creates a server for p's output root.
func New(p *project.Project, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = fmt.Sprintf("%s:%d", config.DefaultHost, config.DefaultPort)
	}

	s := &Server{
		root:   p.OutputRoot,
		opts:   opts,
		logger: logging.Component(p.Logger, "livereload"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBufferSize,
			WriteBufferSize: wsWriteBufferSize,
		},
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, s.serveSocket)
	mux.HandleFunc(ScriptPath, serveScript)
	mux.Handle("/", newStaticHandler(s.root, !opts.NoInject))

	s.handler = mux

	return s
}

// Handler returns the HTTP handler serving files, the client script and
// the websocket endpoint.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listen address and serves in the background. A bind
// failure is returned immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	go func(srv *http.Server, errs chan<- error) {
		errs <- srv.Serve(ln)
	}(s.srv, s.serveErr)

	s.logger.Info("serving", slog.String("url", "http://"+ln.Addr().String()), slog.String("root", s.root))

	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Err returns a channel that receives the error that stopped the server
// unexpectedly. It is nil before Start.
func (s *Server) Err() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serveErr
}

// Shutdown disconnects all clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv

	for c := range s.clients {
		c.stop()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

// Clients returns the number of connected browsers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// Notify sends a reload of the given kind to every connected client and
// returns the number of clients reached.
func (s *Server) Notify(kind Kind) int {
	return s.broadcast(Message{Type: "reload", Kind: kind})
}

func (s *Server) broadcast(msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := 0

	for c := range s.clients {
		if c.enqueue(msg) {
			sent++
		}
	}

	s.logger.Debug("reload sent",
		slog.String("kind", string(msg.Kind)),
		slog.String("path", msg.Path),
		slog.Int("clients", sent),
	)

	return sent
}

// ReportCompletion implements dispatch.Listener.
func (s *Server) ReportCompletion(c dispatch.Completion) {
	kind, ok := KindFor(c)
	if !ok {
		return
	}

	s.broadcast(Message{Type: "reload", Kind: kind, Path: c.Event.Path})
}

// KindFor decides how browsers refresh after c. Failed runs and bindings
// configured with reload "none" do not refresh. Otherwise an explicit
// reload mode wins; stylesheet-only runs refresh stylesheets and anything
// else reloads the page.
func KindFor(c dispatch.Completion) (Kind, bool) {
	if c.Failed() {
		return "", false
	}

	switch c.Reload {
	case config.ReloadNone:
		return "", false
	case config.ReloadFull:
		return Full, true
	case config.ReloadCSSOnly:
		return CSSOnly, true
	}

	if c.Kind == task.KindStyle {
		return CSSOnly, true
	}

	return Full, true
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(conn)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("client connected", slog.String("remote", r.RemoteAddr), slog.Int("clients", count))

	go c.writeLoop()

	c.readLoop()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	c.stop()

	s.logger.Debug("client disconnected", slog.String("remote", r.RemoteAddr))
}

func serveScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(clientScript)
}
