package server

import (
	"bufio"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Hi-Dka/webdav-server/internal/auth"
	"github.com/Hi-Dka/webdav-server/internal/fsbackend"
	"github.com/Hi-Dka/webdav-server/internal/webdavsrv"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := log.New()
	logger.SetOutput(os.Stderr)
	backend, err := fsbackend.New(t.TempDir(), logger)
	require.NoError(t, err)

	handler := &webdavsrv.Server{Backend: backend, Auth: auth.NewStore(), Log: logger}
	srv := &Server{Addr: "127.0.0.1:0", Handler: handler, Log: logger}

	done := make(chan struct{})
	go func() {
		srv.ListenAndServe()
		close(done)
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		<-done
	})

	// ListenAndServe binds asynchronously; poll until the listener exists.
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.listener != nil
	}, time.Second, time.Millisecond)

	return srv
}

func (s *Server) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr().String()
}

func TestServerRoundTripsSimpleRequest(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.DialTimeout("tcp", srv.addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("OPTIONS / HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 200"))
}

func TestServerHandlesHeadersSplitAcrossWrites(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.DialTimeout("tcp", srv.addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	raw := "PUT /split.txt HTTP/1.1\r\nContent-Length: 4\r\n\r\nabcd"
	for i := 0; i < len(raw); i++ {
		_, err := conn.Write([]byte{raw[i]})
		require.NoError(t, err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 201"))
}

func TestServerClosesConnectionOnMalformedRequest(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.DialTimeout("tcp", srv.addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("NOT A REQUEST LINE AT ALL AND TOO MANY WORDS HERE\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 400"))
}

func TestShutdownStopsAcceptingConnections(t *testing.T) {
	srv := newTestServer(t)
	addr := srv.addr()
	srv.Shutdown()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
