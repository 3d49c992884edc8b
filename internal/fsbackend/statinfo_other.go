//go:build !linux

package fsbackend

import (
	"os"
	"time"
)

// statTimes falls back to ModTime for platforms without POSIX ctime/
// atime in Stat_t.
func statTimes(fi os.FileInfo) (created, accessed time.Time) {
	m := fi.ModTime().Truncate(time.Second)
	return m, m
}
