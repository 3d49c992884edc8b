// Package mimetype implements the fixed extension-to-media-type lookup
// table. Lookup lowercases the substring after the last '.' in the
// input; unknown or dotless inputs fall back to application/octet-stream.
package mimetype

import "strings"

// table is a superset of spec.md's §6 "canonical subset": it also
// carries the extra entries original_source's mime_types.cpp has that
// the distillation only gestured at or omitted (office formats, rar,
// 7z). Nothing is added beyond what that table actually contains.
var table = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".txt":  "text/plain",

	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",

	".pdf": "application/pdf",
	".zip": "application/zip",
	".gz":  "application/gzip",
	".tar": "application/x-tar",
	".rar": "application/x-rar-compressed",
	".7z":  "application/x-7z-compressed",

	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

const defaultType = "application/octet-stream"

// Lookup returns the media type for name based on its extension,
// falling back to application/octet-stream when the extension is
// absent or unrecognised.
func Lookup(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return defaultType
	}
	ext := strings.ToLower(name[dot:])
	if t, ok := table[ext]; ok {
		return t
	}
	return defaultType
}
