// Package api hosts the stockdesk HTTP and gRPC listeners: the REST API,
// the watchlist WebSocket push channel, Prometheus metrics and the gRPC
// watchlist stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"stockdesk/internal/httpapi"
	"stockdesk/internal/live"
	"stockdesk/internal/prefs"
	"stockdesk/internal/watchlist"
)

// Message is the WebSocket push envelope. Type is "watchlist" or
// "preferences".
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Options configures a Server.
type Options struct {
	HTTPAddr string
	// GRPCAddr is empty to disable the gRPC listener.
	GRPCAddr  string
	REST      *httpapi.Server
	Watchlist *watchlist.Synchronizer
	Prefs     *prefs.Store
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	httpAddr   string
	grpcAddr   string
	hub        *Hub
	syncer     *watchlist.Synchronizer
	prefs      *prefs.Store
	log        *slog.Logger
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		httpAddr: opts.HTTPAddr,
		grpcAddr: opts.GRPCAddr,
		syncer:   opts.Watchlist,
		prefs:    opts.Prefs,
		log:      opts.Log.With("component", "api"),
	}
	s.hub = NewHub(opts.Log, s.greeting)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/watchlist/ws", s.hub.HandleWebSocket)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", opts.REST.Handler())

	s.httpServer = &http.Server{
		Addr:              opts.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.GRPCAddr != "" {
		s.grpcServer = grpc.NewServer()
		live.NewServer(opts.Watchlist, opts.Log.With("component", "grpc")).RegisterGRPC(s.grpcServer)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	var grpcLis net.Listener
	if s.grpcServer != nil {
		if grpcLis, err = net.Listen("tcp", s.grpcAddr); err != nil {
			httpLis.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.startPush(ctx)

	errc := make(chan error, 2)
	go func() {
		s.log.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	if grpcLis != nil {
		go func() {
			s.log.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := s.grpcServer.Serve(grpcLis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		s.log.Error("listener failed", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.log.Error("shutdown error", "error", err)
	}
	return serveErr
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	err := s.httpServer.Shutdown(ctx)
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			// Open streams never finish on their own.
			s.grpcServer.Stop()
		}
	}
	return err
}

// startPush runs the hub and forwards published views and preference
// changes to it until ctx is cancelled.
func (s *Server) startPush(ctx context.Context) {
	go s.hub.Run(ctx)

	viewID, views := s.syncer.Subscribe(8)
	var prefID int
	var events <-chan prefs.Event
	if s.prefs != nil {
		prefID, events = s.prefs.Subscribe(8)
	}

	go func() {
		defer s.syncer.Unsubscribe(viewID)
		if s.prefs != nil {
			defer s.prefs.Unsubscribe(prefID)
		}
		for {
			var msg []byte
			select {
			case <-ctx.Done():
				return
			case v, ok := <-views:
				if !ok {
					return
				}
				msg = encode(s.log, Message{Type: "watchlist", Data: v})
			case e, ok := <-events:
				if !ok {
					return
				}
				msg = encode(s.log, Message{Type: "preferences", Data: e.Prefs})
			}
			if msg != nil && !s.hub.Broadcast(msg) {
				return
			}
		}
	}()
}

// greeting is the current view, sent to every new WebSocket client.
func (s *Server) greeting() []byte {
	return encode(s.log, Message{Type: "watchlist", Data: s.syncer.View()})
}

func encode(log *slog.Logger, m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		log.Error("encoding push message", "type", m.Type, "error", err)
		return nil
	}
	return data
}
