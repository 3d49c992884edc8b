// Package webdavsrv implements the WebDAV verb handlers: one per
// method, orchestrating the HTTP message types, the filesystem
// backend, and the XML layer. Each handler receives the parsed request
// and returns a response built with httpmsg.
package webdavsrv

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Hi-Dka/webdav-server/internal/auth"
	"github.com/Hi-Dka/webdav-server/internal/fsbackend"
	"github.com/Hi-Dka/webdav-server/internal/httpmsg"
)

// allowedMethods is the fixed Allow/Public header value advertised by
// OPTIONS.
const allowedMethods = "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, PROPFIND, PROPPATCH, LOCK, UNLOCK"

// Server dispatches parsed requests to verb handlers. Auth is wired up
// (Store is populated and usable) but — matching the source's shipped
// behaviour, which never calls its own authenticate() from the
// dispatcher — it is never consulted here. See DESIGN.md Open Question 1.
type Server struct {
	Backend *fsbackend.Backend
	Auth    *auth.Store
	Log     *log.Logger
}

// Handle parses the URI, dispatches on method, and returns the
// response to serialise back to the client.
func (s *Server) Handle(req *httpmsg.Request) *httpmsg.Response {
	uri := decodeURI(req.URI)
	s.Log.Infof("%s %s", req.RawMethod, req.URI)

	switch req.Method {
	case httpmsg.MethodOptions:
		return s.handleOptions()
	case httpmsg.MethodGet:
		return s.handleGet(req, uri, false)
	case httpmsg.MethodHead:
		return s.handleGet(req, uri, true)
	case httpmsg.MethodPut:
		return s.handlePut(req, uri)
	case httpmsg.MethodDelete:
		return s.handleDelete(uri)
	case httpmsg.MethodMkcol:
		return s.handleMkcol(uri)
	case httpmsg.MethodCopy:
		return s.handleCopy(req, uri)
	case httpmsg.MethodMove:
		return s.handleMove(req, uri)
	case httpmsg.MethodPropfind:
		return s.handlePropfind(req, uri)
	case httpmsg.MethodProppatch:
		return s.handleProppatch(req, uri)
	case httpmsg.MethodLock:
		return s.handleLock()
	case httpmsg.MethodUnlock:
		return httpmsg.NewResponse(501, "Not Implemented")
	default:
		s.Log.Errorf("unhandled method: %s", req.RawMethod)
		return httpmsg.NewResponse(501, "Not Implemented")
	}
}

// decodeURI percent-decodes %HH pairs to single bytes; every other
// character is copied verbatim, matching the source's decode_url.
func decodeURI(uri string) string {
	var b strings.Builder
	for i := 0; i < len(uri); i++ {
		if uri[i] == '%' && i+2 < len(uri) {
			n, err := strconv.ParseUint(uri[i+1:i+3], 16, 8)
			if err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(uri[i])
	}
	return b.String()
}

func httpDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

func isoDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
