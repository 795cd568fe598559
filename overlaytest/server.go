// Package overlaytest provides an in-process stand-in for the overlay
// renderer: a loopback TCP server that accepts newline-framed JSON messages
// and records them without rendering anything. It backs the package tests
// and the standalone serve command.
package overlaytest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gOOvER/EDMCOverlay/message"
	"go.uber.org/zap"
)

type Server struct {
	logger   *zap.SugaredLogger
	listener net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	lines    []string
	messages []message.Raw

	done chan struct{}
	wg   sync.WaitGroup
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("overlaytest").Sugar()
	}
}

// Start listens on addr ("" for an ephemeral loopback port) and accepts
// connections until Close.
func Start(addr string, opts ...Option) (*Server, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	s := &Server{
		logger: zap.NewNop().Sugar(),
		conns:  map[net.Conn]struct{}{},
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Debugw("stub renderer listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Debugf("accept error: %s", err)
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()

		var msg message.Raw
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Debugw("dropping unparseable line", "line", line, "err", err)
			continue
		}

		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.messages = append(s.messages, msg)
		s.mu.Unlock()

		s.logger.Debugw("received", "msg", msg)
	}
}

// Lines returns the raw wire lines received so far.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Messages returns the decoded messages received so far.
func (s *Server) Messages() []message.Raw {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Raw, len(s.messages))
	copy(out, s.messages)
	return out
}

// WaitFor blocks until at least n messages have arrived or the timeout
// expires.
func (s *Server) WaitFor(n int, timeout time.Duration) ([]message.Raw, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if msgs := s.Messages(); len(msgs) >= n {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return s.Messages(), fmt.Errorf("timed out waiting for %d messages, have %d", n, len(s.Messages()))
		}
		<-ticker.C
	}
}

// DropConnections resets every live connection so the peer's next write
// fails, while keeping the listener up for reconnects.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetLinger(0)
		}
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
