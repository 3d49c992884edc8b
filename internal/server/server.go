// Package server implements the connection/accept loop: a listening
// TCP socket, an accept loop that polls for shutdown responsiveness,
// and a worker per accepted connection that frames and dispatches
// requests until the peer closes or a protocol error occurs.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Hi-Dka/webdav-server/internal/httpmsg"
	"github.com/Hi-Dka/webdav-server/internal/webdavsrv"
)

const (
	acceptPollInterval = 10 * time.Millisecond
	connTimeout        = 30 * time.Second
	readBufferSize     = 8 * 1024
	socketBufferSize   = 1 << 20 // 1 MiB
)

// Server owns the listening socket and the registry of live connection
// workers. There is no thread/goroutine pool — one goroutine per
// accepted connection, unbounded, matching the source's acknowledged
// DoS limitation (spec §5).
type Server struct {
	Addr    string
	Handler *webdavsrv.Server
	Log     *log.Logger

	listener *net.TCPListener

	mu      sync.Mutex
	workers sync.WaitGroup
	closing chan struct{}
}

// ListenAndServe binds the listening socket and runs the accept loop
// until Shutdown is called; other accept errors are logged and the loop
// keeps accepting. It returns once all connection workers have finished.
func (s *Server) ListenAndServe() error {
	addr, err := net.ResolveTCPAddr("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: resolving %s: %w", s.Addr, err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.closing = make(chan struct{})
	s.mu.Unlock()

	s.Log.Infof("Listening on %s", s.Addr)
	s.acceptLoop()
	s.workers.Wait()
	return nil
}

// Shutdown clears the running flag and closes the listening socket; the
// accept loop observes this on its next poll tick. In-flight workers
// are not forcibly cancelled — ListenAndServe returns once they all
// finish naturally.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing == nil {
		return
	}
	select {
	case <-s.closing:
		// already closed
	default:
		close(s.closing)
		s.listener.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.closing:
			return
		default:
		}

		s.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.closing:
				return
			default:
				s.Log.Errorf("server: accept error: %v", err)
				continue
			}
		}

		s.Log.Infof("new connection from %s", conn.RemoteAddr())
		configureConn(conn)

		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.serveConn(conn)
		}()
	}
}

func configureConn(conn *net.TCPConn) {
	_ = conn.SetKeepAlive(true)
	_ = conn.SetKeepAlivePeriod(connTimeout)
	_ = conn.SetReadBuffer(socketBufferSize)
	_ = conn.SetWriteBuffer(socketBufferSize)
	_ = conn.SetNoDelay(true)
}

// serveConn reads, parses, dispatches, and writes responses on conn in
// a loop, closing it on EOF, a read error, or a request that fails to
// parse even after the body has been fully buffered.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	var buf []byte
	readChunk := make([]byte, readBufferSize)

	for {
		_ = conn.SetDeadline(time.Now().Add(connTimeout))

		req, err := s.readRequest(conn, &buf, readChunk)
		if err != nil {
			if !errors.Is(err, errConnClosed) {
				s.sendError(conn, 400, "Bad Request")
			}
			return
		}

		resp := s.Handler.Handle(req)
		if _, err := conn.Write(httpmsg.Build(resp)); err != nil {
			s.Log.Debugf("server: write error: %v", err)
			return
		}

		buf = nil
	}
}

var errConnClosed = errors.New("server: connection closed")

// readRequest accumulates bytes from conn into buf until httpmsg.Parse
// succeeds, reading the header section and then (if Content-Length
// names a body) the remaining body bytes.
func (s *Server) readRequest(conn net.Conn, buf *[]byte, chunk []byte) (*httpmsg.Request, error) {
	for {
		req, err := httpmsg.Parse(*buf)
		switch {
		case err == nil:
			return req, nil
		case errors.Is(err, httpmsg.ErrIncomplete):
			n, readErr := conn.Read(chunk)
			if n > 0 {
				*buf = append(*buf, chunk[:n]...)
			}
			if readErr != nil {
				if n == 0 {
					return nil, errConnClosed
				}
				continue
			}
		default:
			return nil, err
		}
	}
}

func (s *Server) sendError(conn net.Conn, status int, reason string) {
	resp := httpmsg.NewResponse(status, reason)
	resp.Headers["Content-Length"] = "0"
	_, _ = conn.Write(httpmsg.Build(resp))
}
