package httpd

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service runs the HTTP server and drains in-flight connections on Close,
// adapted from the teacher's connection-state tracking loop (services/httpd
// service.go's manage()): idle connections are closed immediately on
// shutdown, active ones get ShutdownTimeout to finish before being forced
// closed. TLS, notary, and diagnostic wiring were dropped — none of
// spec.md's HTTP surface needs them.
type Service struct {
	ln   net.Listener
	addr string
	err  chan error

	server *http.Server
	mu     sync.Mutex
	wg     sync.WaitGroup

	new             chan net.Conn
	active          chan net.Conn
	idle            chan net.Conn
	closed          chan net.Conn
	stop            chan chan struct{}
	shutdownTimeout time.Duration

	Handler *Handler

	log *zap.Logger
}

func NewService(c Config, h *Handler, log *zap.Logger) *Service {
	return &Service{
		addr:            c.BindAddress,
		err:             make(chan error, 1),
		shutdownTimeout: c.ShutdownTimeout,
		Handler:         h,
		log:             log,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("listening on HTTP", zap.Stringer("address", listener.Addr()))
	s.ln = listener

	s.server = &http.Server{
		Handler:   s.Handler,
		ConnState: s.connStateHandler,
	}

	s.new = make(chan net.Conn)
	s.active = make(chan net.Conn)
	s.idle = make(chan net.Conn)
	s.closed = make(chan net.Conn)
	s.stop = make(chan chan struct{})

	go s.manage()

	s.wg.Add(1)
	go s.serve()
	return nil
}

func (s *Service) Close() error {
	defer s.log.Info("closed HTTP service")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.server.SetKeepAlivesEnabled(false)
	stopping := make(chan struct{})
	s.stop <- stopping

	if err := s.ln.Close(); err != nil {
		return err
	}

	<-stopping
	s.wg.Wait()
	s.server = nil
	return nil
}

func (s *Service) Err() <-chan error { return s.err }

func (s *Service) connStateHandler(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.new <- c
	case http.StateActive:
		s.active <- c
	case http.StateIdle:
		s.idle <- c
	case http.StateHijacked, http.StateClosed:
		s.closed <- c
	}
}

func (s *Service) manage() {
	defer func() {
		close(s.new)
		close(s.active)
		close(s.idle)
		close(s.closed)
	}()

	var stopDone chan struct{}
	conns := map[net.Conn]http.ConnState{}
	var timeout <-chan time.Time

	for {
		select {
		case c := <-s.new:
			conns[c] = http.StateNew
		case c := <-s.active:
			conns[c] = http.StateActive
		case c := <-s.idle:
			conns[c] = http.StateIdle
			if stopDone != nil {
				c.Close()
			}
		case c := <-s.closed:
			delete(conns, c)
			if stopDone != nil && len(conns) == 0 {
				close(stopDone)
				return
			}
		case stopDone = <-s.stop:
			if len(conns) == 0 {
				close(stopDone)
				return
			}
			for c, cs := range conns {
				if cs == http.StateIdle {
					c.Close()
				}
			}
			timeout = time.After(s.shutdownTimeout)
		case <-timeout:
			s.log.Error("shutdown timed out, forcefully closing all remaining connections")
			for c := range conns {
				c.Close()
			}
		}
	}
}

func (s *Service) serve() {
	defer s.wg.Done()
	err := s.server.Serve(s.ln)
	if err != nil && !strings.Contains(err.Error(), "closed") {
		s.err <- fmt.Errorf("listener failed: addr=%s, err=%s", s.Addr(), err)
	} else {
		s.err <- nil
	}
}

func (s *Service) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}
