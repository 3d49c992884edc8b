package webdavsrv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/webdav"

	"github.com/Hi-Dka/webdav-server/internal/httpmsg"
	"github.com/Hi-Dka/webdav-server/internal/mimetype"
)

// handleOptions always succeeds with the fixed capability headers the
// spec requires for both RFC-4918 clients and the Windows Mini-Redirector.
func (s *Server) handleOptions() *httpmsg.Response {
	resp := httpmsg.NewResponse(200, "OK")
	resp.Headers["Allow"] = allowedMethods
	resp.Headers["DAV"] = "1, 2"
	resp.Headers["MS-Author-Via"] = "DAV"
	resp.Headers["Accept-Ranges"] = "bytes"
	resp.Headers["Content-Length"] = "0"
	resp.Headers["Connection"] = "Keep-Alive"
	resp.Headers["Keep-Alive"] = "timeout=5, max=100"
	resp.Headers["Public"] = allowedMethods
	resp.Headers["Server"] = "WebDAV/1.0"
	resp.Headers["Date"] = httpDate(time.Now())
	resp.Headers["X-Server-Type"] = "WebDAV"
	resp.Headers["X-WebDAV-Status"] = "Ready"
	return resp
}

// handleGet serves GET and, via headOnly, HEAD. A directory redirects
// with 301; a missing resource is 404; Range is deliberately never
// inspected, per spec §1's "no ranged GET" Non-goal and
// original_source's own silence on Range.
func (s *Server) handleGet(req *httpmsg.Request, uri string, headOnly bool) *httpmsg.Response {
	info, err := s.Backend.GetResourceInfo(uri)
	if err != nil {
		return httpmsg.NewResponse(404, "Not Found")
	}

	if info.IsDir {
		resp := httpmsg.NewResponse(301, "Moved Permanently")
		resp.Headers["Location"] = req.URI + "/"
		return resp
	}

	data, err := s.Backend.ReadFile(uri)
	if err != nil {
		s.Log.Errorf("GET %s: %v", uri, err)
		return httpmsg.NewResponse(500, "Internal Server Error")
	}

	resp := httpmsg.NewResponse(200, "OK")
	resp.Headers["Content-Type"] = mimetype.Lookup(info.Name)
	resp.Headers["Content-Length"] = strconv.Itoa(len(data))
	resp.Headers["ETag"] = info.ETag
	// Deviates from RFC 7232 (decimal epoch, not an HTTP-date) by design
	// — see DESIGN.md Open Question 2; PROPFIND's getlastmodified does
	// use a proper HTTP-date.
	resp.Headers["Last-Modified"] = strconv.FormatInt(info.ModifiedAt.Unix(), 10)

	if !headOnly {
		resp.Body = data
	}
	return resp
}

// handlePut requires Content-Length, stages the body in a temp file
// under the root, fsyncs it, and renames it onto the final path. The
// temp file is removed on any failure so it never leaks.
func (s *Server) handlePut(req *httpmsg.Request, uri string) *httpmsg.Response {
	if req.Headers.Get("Content-Length") == "" {
		return httpmsg.NewResponse(411, "Length Required")
	}

	tmpName := fmt.Sprintf(".tmp_%d_%s", time.Now().Unix(), uuid.New().String())
	tmpPath := "/" + tmpName

	if err := s.Backend.WriteFile(tmpPath, req.Body); err != nil {
		s.Log.Errorf("PUT %s: staging temp file: %v", uri, err)
		_ = s.Backend.DeleteResource(tmpPath)
		return httpmsg.NewResponse(500, "Internal Server Error")
	}

	_, statErr := s.Backend.GetResourceInfo(uri)
	existedBefore := statErr == nil

	// MoveResource requires the destination's parent to already exist;
	// PUT creates it (single level, matching write_file's own parent
	// creation) before attempting the rename.
	_ = s.Backend.CreateDirectory(parentOf(uri))

	if err := s.Backend.MoveResource(tmpPath, uri); err != nil {
		s.Log.Errorf("PUT %s: renaming temp file into place: %v", uri, err)
		_ = s.Backend.DeleteResource(tmpPath)
		return httpmsg.NewResponse(500, "Internal Server Error")
	}

	status, reason := 201, "Created"
	if existedBefore {
		status, reason = 204, "No Content"
	}
	resp := httpmsg.NewResponse(status, reason)
	resp.Headers["Content-Length"] = "0"
	return resp
}

func (s *Server) handleDelete(uri string) *httpmsg.Response {
	if err := s.Backend.DeleteResource(uri); err != nil {
		return httpmsg.NewResponse(404, "Not Found")
	}
	return httpmsg.NewResponse(204, "No Content")
}

func (s *Server) handleMkcol(uri string) *httpmsg.Response {
	if err := s.Backend.CreateDirectory(uri); err != nil {
		return httpmsg.NewResponse(409, "Conflict")
	}
	return httpmsg.NewResponse(201, "Created")
}

func (s *Server) handleCopy(req *httpmsg.Request, uri string) *httpmsg.Response {
	dest := req.Headers.Get("Destination")
	if dest == "" {
		return httpmsg.NewResponse(400, "Bad Request")
	}
	destPath, ok := pathFromDestinationURL(dest)
	if !ok {
		return httpmsg.NewResponse(400, "Bad Request")
	}

	if err := s.Backend.CopyResource(uri, destPath); err != nil {
		if errors.Is(err, webdav.ErrForbidden) {
			return httpmsg.NewResponse(403, "Forbidden")
		}
		s.Log.Errorf("COPY %s -> %s: %v", uri, destPath, err)
		return httpmsg.NewResponse(500, "Internal Server Error")
	}
	return httpmsg.NewResponse(201, "Created")
}

func (s *Server) handleMove(req *httpmsg.Request, uri string) *httpmsg.Response {
	dest := req.Headers.Get("Destination")
	if dest == "" {
		return httpmsg.NewResponse(400, "Bad Request")
	}
	destPath, ok := pathFromDestinationURL(dest)
	if !ok {
		return httpmsg.NewResponse(400, "Bad Request")
	}

	if _, err := s.Backend.GetResourceInfo(uri); err != nil {
		return httpmsg.NewResponse(404, "Not Found")
	}

	destParent := parentOf(destPath)
	if _, err := s.Backend.GetResourceInfo(destParent); err != nil {
		return httpmsg.NewResponse(409, "Conflict")
	}

	if err := s.Backend.MoveResource(uri, destPath); err != nil {
		s.Log.Errorf("MOVE %s -> %s: %v", uri, destPath, err)
		return httpmsg.NewResponse(500, "Internal Server Error")
	}

	resp := httpmsg.NewResponse(201, "Created")
	resp.Headers["Content-Length"] = "0"
	return resp
}

// pathFromDestinationURL extracts the path portion of a Destination
// header that carries a full URL, skipping scheme and host: it begins
// at the first '/' after "://".
func pathFromDestinationURL(dest string) (string, bool) {
	schemeEnd := strings.Index(dest, "://")
	if schemeEnd < 0 {
		return dest, true
	}
	rest := dest[schemeEnd+3:]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", false
	}
	return decodeURI(rest[idx:]), true
}

func parentOf(p string) string {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// handleLock emits a synthetic lock token with no server-side tracking
// — matching the source's handle_lock_request, which formats a token
// and never records it anywhere. See DESIGN.md Open Question 7.
func (s *Server) handleLock() *httpmsg.Response {
	resp := httpmsg.NewResponse(200, "OK")
	resp.Headers["Lock-Token"] = fmt.Sprintf("<opaquelocktoken:%s>", uuid.New().String())
	resp.Headers["Content-Length"] = "0"
	return resp
}
