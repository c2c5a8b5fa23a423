// Package artifact names and packages dump artifacts.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is minute-granular: two names derived within the same
// minute are identical.
const TimestampLayout = "2006-01-02-15:04"

// Namer derives destination names of the form
// <product>-db-backup-<YYYY-MM-DD-HH:mm><ext>.
type Namer struct {
	Product string
	Ext     string
}

// Name returns the destination name for t. It is a pure function of t.
func (n Namer) Name(t time.Time) string {
	return fmt.Sprintf("%s-db-backup-%s%s", n.Product, t.Format(TimestampLayout), n.Ext)
}

// WithExt returns a copy of n using ext.
func (n Namer) WithExt(ext string) Namer {
	n.Ext = ext
	return n
}

// ExtOf returns the extension of a file name including known compound
// suffixes, e.g. ".tar.gz" or ".tar.gz.zst".
func ExtOf(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == "" {
		return ""
	}
	stem := strings.TrimSuffix(base, ext)
	switch ext {
	case ".gz", ".zst", ".bz2", ".xz", ".gpg", ".enc":
		if inner := ExtOf(stem); inner != "" {
			return inner + ext
		}
	}
	return ext
}
