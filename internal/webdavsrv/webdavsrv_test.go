package webdavsrv

import (
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Hi-Dka/webdav-server/internal/auth"
	"github.com/Hi-Dka/webdav-server/internal/fsbackend"
	"github.com/Hi-Dka/webdav-server/internal/httpmsg"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := log.New()
	logger.SetOutput(os.Stderr)
	backend, err := fsbackend.New(t.TempDir(), logger)
	require.NoError(t, err)
	return &Server{Backend: backend, Auth: auth.NewStore(), Log: logger}
}

func req(method httpmsg.Method, raw, uri string, headers httpmsg.Header, body []byte) *httpmsg.Request {
	if headers == nil {
		headers = httpmsg.Header{}
	}
	return &httpmsg.Request{Method: method, RawMethod: raw, URI: uri, Version: "HTTP/1.1", Headers: headers, Body: body}
}

func TestOptionsAdvertisesAllowedMethods(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodOptions, "OPTIONS", "/", nil, nil))
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, PROPFIND, PROPPATCH, LOCK, UNLOCK", resp.Headers["Allow"])
	require.Equal(t, "1, 2", resp.Headers["DAV"])
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := newTestServer(t)

	putResp := s.Handle(req(httpmsg.MethodPut, "PUT", "/hello.txt",
		httpmsg.Header{"Content-Length": "5"}, []byte("hello")))
	require.Equal(t, 201, putResp.Status)

	getResp := s.Handle(req(httpmsg.MethodGet, "GET", "/hello.txt", nil, nil))
	require.Equal(t, 200, getResp.Status)
	require.Equal(t, "5", getResp.Headers["Content-Length"])
	require.Equal(t, []byte("hello"), getResp.Body)
	require.Equal(t, "text/plain", getResp.Headers["Content-Type"])
}

func TestPutOverwriteReturns204(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodPut, "PUT", "/hello.txt", httpmsg.Header{"Content-Length": "5"}, []byte("hello")))

	resp := s.Handle(req(httpmsg.MethodPut, "PUT", "/hello.txt", httpmsg.Header{"Content-Length": "2"}, []byte("hi")))
	require.Equal(t, 204, resp.Status)

	getResp := s.Handle(req(httpmsg.MethodGet, "GET", "/hello.txt", nil, nil))
	require.Equal(t, []byte("hi"), getResp.Body)
}

func TestPutWithoutContentLengthFails(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodPut, "PUT", "/hello.txt", nil, []byte("hello")))
	require.Equal(t, 411, resp.Status)
}

func TestGetMissingReturns404(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodGet, "GET", "/missing", nil, nil))
	require.Equal(t, 404, resp.Status)
}

func TestGetDirectoryRedirects(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))

	resp := s.Handle(req(httpmsg.MethodGet, "GET", "/dir", nil, nil))
	require.Equal(t, 301, resp.Status)
	require.Equal(t, "/dir/", resp.Headers["Location"])
}

func TestDeleteThenGetIs404(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodPut, "PUT", "/x", httpmsg.Header{"Content-Length": "1"}, []byte("1")))

	delResp := s.Handle(req(httpmsg.MethodDelete, "DELETE", "/x", nil, nil))
	require.Equal(t, 204, delResp.Status)

	getResp := s.Handle(req(httpmsg.MethodGet, "GET", "/x", nil, nil))
	require.Equal(t, 404, getResp.Status)
}

func TestMkcolCreatedThenConflict(t *testing.T) {
	s := newTestServer(t)
	first := s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))
	require.Equal(t, 201, first.Status)

	second := s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))
	require.Equal(t, 409, second.Status)
}

func TestCopyRequiresDestination(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodCopy, "COPY", "/x", nil, nil))
	require.Equal(t, 400, resp.Status)
}

func TestCopyThenMoveScenario(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))
	s.Handle(req(httpmsg.MethodPut, "PUT", "/dir/x", httpmsg.Header{"Content-Length": "1"}, []byte("1")))

	copyResp := s.Handle(req(httpmsg.MethodCopy, "COPY", "/dir/x",
		httpmsg.Header{"Destination": "http://h/dir/y"}, nil))
	require.Equal(t, 201, copyResp.Status)

	getY := s.Handle(req(httpmsg.MethodGet, "GET", "/dir/y", nil, nil))
	require.Equal(t, []byte("1"), getY.Body)

	moveResp := s.Handle(req(httpmsg.MethodMove, "MOVE", "/dir/y",
		httpmsg.Header{"Destination": "http://h/dir/z"}, nil))
	require.Equal(t, 201, moveResp.Status)

	require.Equal(t, 404, s.Handle(req(httpmsg.MethodGet, "GET", "/dir/y", nil, nil)).Status)
	require.Equal(t, []byte("1"), s.Handle(req(httpmsg.MethodGet, "GET", "/dir/z", nil, nil)).Body)

	delResp := s.Handle(req(httpmsg.MethodDelete, "DELETE", "/dir", nil, nil))
	require.Equal(t, 204, delResp.Status)
}

func TestPropfindDepthOneListsChildren(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))
	s.Handle(req(httpmsg.MethodPut, "PUT", "/dir/x", httpmsg.Header{"Content-Length": "1"}, []byte("1")))

	resp := s.Handle(req(httpmsg.MethodPropfind, "PROPFIND", "/dir", httpmsg.Header{"Depth": "1"}, nil))
	require.Equal(t, 207, resp.Status)

	body := string(resp.Body)
	require.Equal(t, 2, strings.Count(body, "<D:response>"))
	require.Contains(t, body, "<D:collection/>")
}

func TestPropfindDepthZeroReturnsOnlySelf(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodMkcol, "MKCOL", "/dir", nil, nil))
	s.Handle(req(httpmsg.MethodPut, "PUT", "/dir/x", httpmsg.Header{"Content-Length": "1"}, []byte("1")))

	resp := s.Handle(req(httpmsg.MethodPropfind, "PROPFIND", "/dir", httpmsg.Header{"Depth": "0"}, nil))
	body := string(resp.Body)
	require.Equal(t, 1, strings.Count(body, "<D:response>"))
}

func TestPropfindMissingReturns404(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodPropfind, "PROPFIND", "/missing", nil, nil))
	require.Equal(t, 404, resp.Status)
}

func TestProppatchAlwaysSucceeds(t *testing.T) {
	s := newTestServer(t)
	s.Handle(req(httpmsg.MethodPut, "PUT", "/x", httpmsg.Header{"Content-Length": "1"}, []byte("1")))

	resp := s.Handle(req(httpmsg.MethodProppatch, "PROPPATCH", "/x", nil, nil))
	require.Equal(t, 207, resp.Status)
	require.Contains(t, string(resp.Body), "Win32LastModifiedTime")
}

func TestLockReturnsSyntheticToken(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodLock, "LOCK", "/x", nil, nil))
	require.Equal(t, 200, resp.Status)
	require.Contains(t, resp.Headers["Lock-Token"], "opaquelocktoken:")
}

func TestUnlockIsUnimplemented(t *testing.T) {
	s := newTestServer(t)
	resp := s.Handle(req(httpmsg.MethodUnlock, "UNLOCK", "/x", nil, nil))
	require.Equal(t, 501, resp.Status)
}
