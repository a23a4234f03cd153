package http2

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server provides HTTP/2 support with multiplexing and HPACK compression.
// It serves the monitoring surface alongside the main epoll engine.
type Server struct {
	addr    string
	handler http.Handler
	server  *http.Server
	h2      *http2.Server
	log     *zap.Logger

	// TLS configuration for ALPN negotiation
	tlsConfig *tls.Config

	mu     sync.RWMutex
	closed bool
}

// Config contains HTTP/2 server configuration
type Config struct {
	Addr                 string
	Handler              http.Handler
	TLSConfig            *tls.Config
	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
	IdleTimeout          time.Duration
	Logger               *zap.Logger
}

// NewServer creates a new HTTP/2 server
func NewServer(cfg Config) *Server {
	if cfg.MaxConcurrentStreams == 0 {
		cfg.MaxConcurrentStreams = 250
	}
	if cfg.MaxReadFrameSize == 0 {
		cfg.MaxReadFrameSize = 1 << 20 // 1MB
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		addr:    cfg.Addr,
		handler: cfg.Handler,
		log:     cfg.Logger,
	}

	s.h2 = &http2.Server{
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		MaxReadFrameSize:     cfg.MaxReadFrameSize,
		IdleTimeout:          cfg.IdleTimeout,
	}

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: cfg.Handler,
	}

	// ALPN for HTTP/2 over TLS, h2c otherwise
	if cfg.TLSConfig != nil {
		s.tlsConfig = cfg.TLSConfig.Clone()
		s.tlsConfig.NextProtos = []string{"h2", "http/1.1"}
		s.server.TLSConfig = s.tlsConfig
	} else {
		s.server.Handler = h2c.NewHandler(s.server.Handler, s.h2)
	}

	return s
}

// ListenAndServe starts the HTTP/2 server
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	s.mu.Unlock()

	if s.tlsConfig != nil {
		s.log.Info("http2 server starting",
			zap.String("addr", s.addr),
			zap.String("protocol", "h2"))
		return s.server.ListenAndServeTLS("", "")
	}

	s.log.Info("http2 server starting",
		zap.String("addr", s.addr),
		zap.String("protocol", "h2c"))
	return s.server.ListenAndServe()
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.server.Close()
}
