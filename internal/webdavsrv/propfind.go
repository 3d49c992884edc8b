package webdavsrv

import (
	"strconv"
	"strings"

	"github.com/Hi-Dka/webdav-server/internal/fsbackend"
	"github.com/Hi-Dka/webdav-server/internal/httpmsg"
	"github.com/Hi-Dka/webdav-server/internal/mimetype"
	"github.com/Hi-Dka/webdav-server/internal/xmlnode"
)

// handlePropfind resolves the target, builds a <D:response> for it
// and, unless Depth: 0, for its direct children, and wraps the whole
// thing in a single multistatus document. Depth: infinity is treated
// as depth 1 (self + direct children only) — see DESIGN.md Open
// Question 6.
func (s *Server) handlePropfind(req *httpmsg.Request, uri string) *httpmsg.Response {
	info, err := s.Backend.GetResourceInfo(uri)
	if err != nil {
		resp := httpmsg.NewResponse(404, "Not Found")
		resp.Headers["Cache-Control"] = "no-cache"
		resp.Headers["Connection"] = "Keep-Alive"
		resp.Headers["Keep-Alive"] = "timeout=5, max=100"
		return resp
	}

	depth := parseDepth(req.Headers.Get("Depth"))

	tree := &xmlnode.Tree{}
	root := tree.NewNode("D:multistatus")
	tree.SetAttr(root, "xmlns:D", "DAV:")

	href := req.URI
	tree.AddChild(root, buildResponseNode(tree, href, info))

	if info.IsDir && depth != depthSelf {
		children, err := s.Backend.ListDirectory(uri)
		if err == nil {
			base := strings.TrimSuffix(href, "/")
			for _, child := range children {
				childHref := base + "/" + child.Name
				tree.AddChild(root, buildResponseNode(tree, childHref, child))
			}
		}
	}

	body := `<?xml version="1.0" encoding="utf-8"?>` + "\n" + xmlnode.Build(tree, root)

	resp := httpmsg.NewResponse(207, "Multi-Status")
	resp.Headers["Content-Type"] = "application/xml; charset=utf-8"
	resp.Headers["Content-Length"] = strconv.Itoa(len(body))
	resp.Headers["Cache-Control"] = "no-cache"
	resp.Headers["Connection"] = "Keep-Alive"
	resp.Headers["Keep-Alive"] = "timeout=5, max=100"
	resp.Body = []byte(body)
	return resp
}

type depthValue int

const (
	depthSelf     depthValue = 0
	depthChildren depthValue = 1
	depthInfinity depthValue = 2
)

// parseDepth reads the Depth header, defaulting to infinity (which,
// per spec §4.8 and §9 note 6, is handled as depthChildren rather than
// a true recursive walk).
func parseDepth(raw string) depthValue {
	switch raw {
	case "0":
		return depthSelf
	case "1":
		return depthChildren
	case "", "infinity":
		return depthInfinity
	default:
		return depthInfinity
	}
}

// buildResponseNode renders one <D:response> for a resource at href.
func buildResponseNode(tree *xmlnode.Tree, href string, info *fsbackend.FileInfo) xmlnode.Ref {
	response := tree.NewNode("D:response")

	hrefNode := tree.NewNode("D:href")
	tree.SetValue(hrefNode, href)
	tree.AddChild(response, hrefNode)

	propstat := tree.NewNode("D:propstat")
	tree.AddChild(response, propstat)

	prop := tree.NewNode("D:prop")
	tree.AddChild(propstat, prop)

	resourceType := tree.NewNode("D:resourcetype")
	if info.IsDir {
		tree.AddChild(resourceType, tree.NewNode("D:collection"))
	}
	tree.AddChild(prop, resourceType)

	contentLength := tree.NewNode("D:getcontentlength")
	tree.SetValue(contentLength, strconv.FormatInt(info.Size, 10))
	tree.AddChild(prop, contentLength)

	lastModified := tree.NewNode("D:getlastmodified")
	tree.SetValue(lastModified, httpDate(info.ModifiedAt))
	tree.AddChild(prop, lastModified)

	creationDate := tree.NewNode("D:creationdate")
	tree.SetValue(creationDate, isoDate(info.CreatedAt))
	tree.AddChild(prop, creationDate)

	etagNode := tree.NewNode("D:getetag")
	tree.SetValue(etagNode, info.ETag)
	tree.AddChild(prop, etagNode)

	contentType := tree.NewNode("D:getcontenttype")
	tree.SetValue(contentType, mimetype.Lookup(info.Name))
	tree.AddChild(prop, contentType)

	displayName := tree.NewNode("D:displayname")
	tree.SetValue(displayName, info.Name)
	tree.AddChild(prop, displayName)

	tree.AddChild(prop, buildSupportedLockNode(tree))

	for name, value := range info.Properties {
		deadProp := tree.NewNode(name)
		tree.SetValue(deadProp, value)
		tree.AddChild(prop, deadProp)
	}

	status := tree.NewNode("D:status")
	tree.SetValue(status, "HTTP/1.1 200 OK")
	tree.AddChild(propstat, status)

	return response
}

func buildSupportedLockNode(tree *xmlnode.Tree) xmlnode.Ref {
	supportedLock := tree.NewNode("D:supportedlock")
	entry := tree.NewNode("D:lockentry")
	tree.AddChild(supportedLock, entry)

	scope := tree.NewNode("D:lockscope")
	tree.AddChild(scope, tree.NewNode("D:exclusive"))
	tree.AddChild(entry, scope)

	lockType := tree.NewNode("D:locktype")
	tree.AddChild(lockType, tree.NewNode("D:write"))
	tree.AddChild(entry, lockType)

	return supportedLock
}

// handleProppatch always acknowledges the four Windows property names
// without mutating anything — matching the source, see DESIGN.md Open
// Question 3.
func (s *Server) handleProppatch(req *httpmsg.Request, uri string) *httpmsg.Response {
	_ = uri
	tree := &xmlnode.Tree{}
	root := tree.NewNode("D:multistatus")
	tree.SetAttr(root, "xmlns:D", "DAV:")

	response := tree.NewNode("D:response")
	tree.AddChild(root, response)

	hrefNode := tree.NewNode("D:href")
	tree.SetValue(hrefNode, req.URI)
	tree.AddChild(response, hrefNode)

	propstat := tree.NewNode("D:propstat")
	tree.AddChild(response, propstat)

	prop := tree.NewNode("D:prop")
	tree.AddChild(propstat, prop)
	for _, name := range []string{
		"Win32LastModifiedTime",
		"Win32FileAttributes",
		"Win32CreationTime",
		"Win32LastAccessTime",
	} {
		tree.AddChild(prop, tree.NewNode(name))
	}

	status := tree.NewNode("D:status")
	tree.SetValue(status, "HTTP/1.1 200 OK")
	tree.AddChild(propstat, status)

	body := `<?xml version="1.0" encoding="utf-8"?>` + "\n" + xmlnode.Build(tree, root)

	resp := httpmsg.NewResponse(207, "Multi-Status")
	resp.Headers["Content-Type"] = "application/xml; charset=utf-8"
	resp.Headers["Content-Length"] = strconv.Itoa(len(body))
	resp.Body = []byte(body)
	return resp
}
