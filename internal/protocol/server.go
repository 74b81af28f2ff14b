// Package protocol serves the confmaster command surface over the redis
// protocol. Both RESP arrays and inline commands are accepted.
package protocol

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/tidwall/redcon"

	"github.com/otheng03/nbase-arc/internal/metrics"
)

// Executor runs one command line and returns its rendered reply.
type Executor interface {
	Execute(ctx context.Context, args []string) string
}

type Server struct {
	addr     string
	executor Executor
	logger   logr.Logger
	server   *redcon.Server
	listener net.Listener

	mu      sync.RWMutex
	clients map[redcon.Conn]struct{}
}

func NewServer(addr string, executor Executor, logger logr.Logger) *Server {
	return &Server{
		addr:     addr,
		executor: executor,
		logger:   logger.WithName("admin"),
		clients:  make(map[redcon.Conn]struct{}),
	}
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := redcon.NewServer(s.addr,
		s.handleCommand,
		s.handleAccept,
		s.handleClose,
	)

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("admin server listening", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Addr returns the bound address once Start has listened.
func (s *Server) Addr() string {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return s.addr
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleAccept(conn redcon.Conn) bool {
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	metrics.RecordConnection(1)
	s.logger.V(1).Info("client connected", "remote", conn.RemoteAddr())
	return true
}

func (s *Server) handleClose(conn redcon.Conn, err error) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()

	metrics.RecordConnection(-1)
	s.logger.V(1).Info("client disconnected", "remote", conn.RemoteAddr())
}

func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	// Workflows run to completion even if the client goes away.
	ctx := context.Background()

	s.execute(ctx, conn, cmd)

	for _, p := range conn.ReadPipeline() {
		s.execute(ctx, conn, p)
	}
}

func (s *Server) execute(ctx context.Context, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}

	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = string(a)
	}

	if strings.EqualFold(args[0], "quit") {
		conn.WriteString("OK")
		conn.Close()
		return
	}

	WriteReply(conn, s.executor.Execute(ctx, args))
}
