// Package mailserver implements the server side of the mail protocol:
// a TCP listener that runs the handshake on every inbound connection
// and then serves framed commands for the life of the session.
package mailserver

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.io/infrasutra/ycap/internal/session"
	"github.io/infrasutra/ycap/internal/store"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("mailserver: server closed")

type Config struct {
	Host          string
	Port          int
	Domain        string
	MasterKey     []byte
	ShutdownGrace time.Duration
}

type Server struct {
	cfg      Config
	store    *store.Store
	registry *session.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(cfg Config, db *store.Store, registry *session.Registry, logger *slog.Logger) *Server {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Server{
		cfg:      cfg,
		store:    db,
		registry: registry,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections until the listener fails or Close is
// called. One worker goroutine per connection.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("mail server listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept", "error", err)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address, empty before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, closes every live connection and waits up to
// the shutdown grace period for workers to drain.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		return errors.New("mailserver: workers did not drain in time")
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()
	defer s.registry.PurgeConn(conn)

	remote := conn.RemoteAddr().String()
	s.logger.Info("connection accepted", "remote", remote)

	sess, err := s.handshake(conn)
	if err != nil {
		s.logger.Warn("handshake failed", "remote", remote, "error", err)
		return
	}
	if sess == nil {
		// Sign-up branch ran to completion; the client reconnects to
		// log in.
		return
	}

	s.logger.Info("session established", "remote", remote, "address", sess.Address)
	s.dispatch(conn, sess)
	s.logger.Info("connection closed", "remote", remote)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
