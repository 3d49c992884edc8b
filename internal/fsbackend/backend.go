// Package fsbackend implements the path-confined filesystem backend:
// atomic writes, recursive copy/move with rename-fallback, a short-TTL
// metadata cache, and per-path serialisation. Every exported method
// re-validates that the requested path, once normalised, stays under
// the configured root before touching the filesystem.
package fsbackend

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/pmylund/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"
)

const (
	cacheTTL        = 5 * time.Second
	cacheSweep      = 30 * time.Second
	pathStripeCount = 64
)

// Backend is the confined view of one directory tree rooted at Root.
type Backend struct {
	Root   string
	log    *log.Logger
	cache  *gocache.Cache
	stripe [pathStripeCount]sync.Mutex
}

// New creates the root directory if needed and returns a Backend
// rooted there.
func New(root string, logger *log.Logger) (*Backend, error) {
	abs := normalise(root)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fsbackend: creating root %s: %w", abs, err)
	}
	return &Backend{
		Root:  abs,
		log:   logger,
		cache: gocache.New(cacheTTL, cacheSweep),
	}, nil
}

// normalise replaces backslashes with forward slashes, collapses runs
// of '/' to one, and strips a single trailing '/' (except on the root).
func normalise(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	var b strings.Builder
	var lastSlash bool
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteByte(c)
	}
	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	return out
}

// absolute resolves a backend-relative path to its absolute form under
// Root, without any security check.
func (b *Backend) absolute(p string) string {
	return normalise(b.Root + "/" + p)
}

// checkSecurity reports whether abs has the normalised root as a
// byte-prefix, per spec §4.7.
func (b *Backend) checkSecurity(abs string) bool {
	root := normalise(b.Root)
	return strings.HasPrefix(abs, root)
}

// resolve normalises p, validates it against Root, and returns its
// absolute filesystem path. Every mutating or reading operation funnels
// through this before making a syscall.
func (b *Backend) resolve(p string) (string, error) {
	abs := b.absolute(p)
	if !b.checkSecurity(abs) {
		b.log.Errorf("fsbackend: security check failed for %q (resolved %q)", p, abs)
		return "", webdav.ErrForbidden
	}
	return abs, nil
}

// lockPath returns the stripe mutex guarding abs. The same absolute
// path always maps to the same stripe; distinct paths may collide, but
// that only costs concurrency, never correctness.
func (b *Backend) lockPath(abs string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(abs))
	return &b.stripe[h.Sum32()%pathStripeCount]
}

func (b *Backend) invalidate(abs string) {
	b.cache.Delete(cacheKey(abs))
}

func cacheKey(abs string) string { return "file:" + abs }

// CreateDirectory creates exactly one directory; it never creates
// parents and fails if the path already exists.
func (b *Backend) CreateDirectory(p string) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	mu := b.lockPath(abs)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Mkdir(abs, 0o755); err != nil {
		b.log.Errorf("fsbackend: mkdir %s: %v", abs, err)
		return err
	}
	b.invalidate(abs)
	return nil
}

// WriteFile creates the parent directory (single level) if needed,
// truncate-writes data, fsyncs, and evicts the cache entry.
func (b *Backend) WriteFile(p string, data []byte) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	mu := b.lockPath(abs)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Mkdir(path.Dir(abs), 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("fsbackend: creating parent of %s: %w", abs, err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fsbackend: open %s: %w", abs, err)
	}
	if err := writeAll(f, data); err != nil {
		f.Close()
		return fmt.Errorf("fsbackend: write %s: %w", abs, err)
	}
	if err := f.Sync(); err != nil {
		b.log.Warnf("fsbackend: fsync %s failed: %v", abs, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fsbackend: close %s: %w", abs, err)
	}

	b.invalidate(abs)
	return nil
}

// writeAll loops over short writes the way the source's EINTR-tolerant
// write loop does; os.File.Write in Go already retries EINTR itself,
// but a short write (possible on some filesystems/pipes) is handled
// explicitly here rather than assumed away.
func writeAll(f *os.File, data []byte) error {
	for len(data) > 0 {
		n, err := f.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// OpenWriteStream opens p for truncating write, creating its parent
// directory (single level) as needed, and returns the open file handle.
// Callers must call FinishWrite(p, f) when done.
func (b *Backend) OpenWriteStream(p string) (*os.File, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(path.Dir(abs), 0o755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("fsbackend: creating parent of %s: %w", abs, err)
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: open %s: %w", abs, err)
	}
	return f, nil
}

// FinishWrite fsyncs and closes f, then evicts the cache entry for p.
// A failing fsync is logged but does not fail the call; a failing
// close does.
func (b *Backend) FinishWrite(p string, f *os.File) error {
	abs, err := b.resolve(p)
	if err != nil {
		f.Close()
		return err
	}
	mu := b.lockPath(abs)
	mu.Lock()
	defer mu.Unlock()

	if err := f.Sync(); err != nil {
		b.log.Warnf("fsbackend: fsync %s failed: %v", abs, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fsbackend: close %s: %w", abs, err)
	}
	b.invalidate(abs)
	return nil
}

// ReadFile reads the entire file at p into memory.
func (b *Backend) ReadFile(p string) ([]byte, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: read %s: %w", abs, err)
	}
	return data, nil
}

// DeleteResource removes a file, or recursively removes a directory
// depth-first then rmdirs it. Missing top-level entries fail.
func (b *Backend) DeleteResource(p string) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	mu := b.lockPath(abs)
	mu.Lock()
	defer mu.Unlock()

	if err := deleteRecursive(abs); err != nil {
		b.log.Errorf("fsbackend: delete %s: %v", abs, err)
		return err
	}
	b.invalidate(abs)
	return nil
}

func deleteRecursive(abs string) error {
	fi, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return os.Remove(abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := deleteRecursive(path.Join(abs, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(abs)
}

// CopyResource copies src onto dst. Directories are copied recursively,
// depth-first, stopping at the first failure — a partial tree may be
// left behind on error, matching the source's lack of rollback
// (DESIGN.md records this as an acknowledged limitation, not a bug to
// paper over).
func (b *Backend) CopyResource(src, dst string) error {
	absSrc, err := b.resolve(src)
	if err != nil {
		return err
	}
	absDst, err := b.resolve(dst)
	if err != nil {
		return err
	}
	if err := copyRecursive(absSrc, absDst); err != nil {
		b.log.Errorf("fsbackend: copy %s -> %s: %v", absSrc, absDst, err)
		return err
	}
	return nil
}

func copyRecursive(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if err := os.Mkdir(dst, fi.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyRecursive(path.Join(src, e.Name()), path.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// MoveResource validates the preconditions in spec §4.7, attempts an
// atomic rename, and falls back to copy-then-delete on failure — if
// the post-copy delete of the source fails, the freshly created
// destination is removed to keep the operation all-or-nothing from the
// caller's point of view.
func (b *Backend) MoveResource(src, dst string) error {
	absSrc, err := b.resolve(src)
	if err != nil {
		return err
	}
	absDst, err := b.resolve(dst)
	if err != nil {
		return err
	}

	srcMu, dstMu := b.lockPath(absSrc), b.lockPath(absDst)
	if srcMu == dstMu {
		srcMu.Lock()
		defer srcMu.Unlock()
	} else {
		srcMu.Lock()
		defer srcMu.Unlock()
		dstMu.Lock()
		defer dstMu.Unlock()
	}

	srcInfo, err := os.Stat(absSrc)
	if err != nil {
		return fmt.Errorf("fsbackend: move source %s: %w", absSrc, err)
	}

	if _, err := os.Stat(path.Dir(absDst)); err != nil {
		return fmt.Errorf("fsbackend: move destination parent %s: %w", path.Dir(absDst), err)
	}

	if dstInfo, err := os.Stat(absDst); err == nil {
		if dstInfo.IsDir() != srcInfo.IsDir() {
			return fmt.Errorf("fsbackend: move %s -> %s: type mismatch", absSrc, absDst)
		}
		if dstInfo.IsDir() {
			entries, err := os.ReadDir(absDst)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				return fmt.Errorf("fsbackend: move destination %s is not empty", absDst)
			}
		}
	}

	if err := os.Rename(absSrc, absDst); err == nil {
		b.invalidate(absSrc)
		b.invalidate(absDst)
		return nil
	}

	if err := copyRecursive(absSrc, absDst); err != nil {
		return fmt.Errorf("fsbackend: move (copy phase) %s -> %s: %w", absSrc, absDst, err)
	}
	if err := deleteRecursive(absSrc); err != nil {
		b.log.Errorf("fsbackend: move could not delete source %s after copy, rolling back destination: %v", absSrc, err)
		_ = deleteRecursive(absDst)
		return fmt.Errorf("fsbackend: move (delete phase) %s: %w", absSrc, err)
	}
	b.invalidate(absSrc)
	b.invalidate(absDst)
	return nil
}

// GetResourceInfo returns the FileInfo for p, consulting and refreshing
// the TTL cache.
func (b *Backend) GetResourceInfo(p string) (*FileInfo, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	if cached, ok := b.cache.Get(cacheKey(abs)); ok {
		info := cached.(*FileInfo)
		return info, nil
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: stat %s: %w", abs, err)
	}

	info := &FileInfo{
		Name:       path.Base(strings.TrimSuffix(normalise(p), "/")),
		Path:       p,
		Size:       fi.Size(),
		ModifiedAt: fi.ModTime().Truncate(time.Second),
		IsDir:      fi.IsDir(),
		ETag:       etag(fi),
	}
	info.CreatedAt, info.AccessedAt = statTimes(fi)

	b.cache.Set(cacheKey(abs), info, cacheTTL)
	return info, nil
}

// etag renders `"<hex mtime>-<hex size>"`.
func etag(fi os.FileInfo) string {
	return fmt.Sprintf("%q", strconv.FormatInt(fi.ModTime().Unix(), 16)+"-"+strconv.FormatInt(fi.Size(), 16))
}

// ListDirectory enumerates the entries of p (skipping "." and ".."),
// warming the cache for each one via GetResourceInfo.
func (b *Backend) ListDirectory(p string) ([]*FileInfo, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: readdir %s: %w", abs, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	infos := make([]*FileInfo, 0, len(names))
	for _, name := range names {
		child := strings.TrimSuffix(normalise(p), "/") + "/" + name
		info, err := b.GetResourceInfo(child)
		if err != nil {
			b.log.Warnf("fsbackend: listing %s: skipping %s: %v", abs, name, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SetProperties updates the in-memory dead-property map of p's FileInfo
// and re-caches it. Nothing is persisted to disk: a process restart
// loses all dead properties, matching the source's set_properties,
// which mutates a local copy the caller never re-stores (see
// DESIGN.md).
func (b *Backend) SetProperties(p string, props map[string]string) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	info, err := b.GetResourceInfo(p)
	if err != nil {
		return err
	}
	info.Properties = props
	b.cache.Set(cacheKey(abs), info, cacheTTL)
	return nil
}

// GetProperties returns the dead-property map of p's FileInfo.
func (b *Backend) GetProperties(p string) (map[string]string, error) {
	info, err := b.GetResourceInfo(p)
	if err != nil {
		return nil, err
	}
	return info.Properties, nil
}
