package dirty

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Path identifies a file or directory. It is always absolute, cleaned and
// slash-separated so that two spellings of the same location compare equal.
// A Path carries no ownership.
type Path string

// Handle is a low-level storage handle, such as a watcher event or a
// virtual file entry, that can report where it lives.
type Handle interface {
	Path() string
}

// NewPath normalizes p into a Path.
// Relative paths are resolved against the working directory.
func NewPath(p string) Path {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return Path(filepath.ToSlash(filepath.Clean(p)))
}

// PathOf adapts a storage handle to a Path.
func PathOf(h Handle) Path {
	if h == nil {
		return ""
	}
	return NewPath(h.Path())
}

// PathFromURI converts a file:// URI to a Path.
func PathFromURI(uri string) (Path, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", ErrNotFileURI
	}

	p, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", err
	}

	// file:///C:/x decodes to /C:/x
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return NewPath(filepath.FromSlash(p)), nil
}

// String returns the path as a string.
func (p Path) String() string {
	return string(p)
}

// OS returns the path in native separator form.
func (p Path) OS() string {
	return filepath.FromSlash(string(p))
}

// IsEmpty reports whether p is the zero Path.
func (p Path) IsEmpty() bool {
	return p == ""
}

// Parent returns the containing directory. The root is its own parent.
func (p Path) Parent() Path {
	if p == "" {
		return ""
	}
	idx := strings.LastIndexByte(string(p), '/')
	switch {
	case idx < 0:
		return p
	case idx == 0:
		return "/"
	default:
		return p[:idx]
	}
}

// Contains reports whether child is p itself or lies beneath it.
func (p Path) Contains(child Path) bool {
	if p == "" || child == "" {
		return false
	}
	if p == child {
		return true
	}
	prefix := string(p)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(string(child), prefix)
}

// Rel returns child relative to p, or false if child is not under p.
func (p Path) Rel(child Path) (string, bool) {
	if !p.Contains(child) {
		return "", false
	}
	if p == child {
		return ".", true
	}
	rel := strings.TrimPrefix(string(child), string(p))
	return strings.TrimPrefix(rel, "/"), true
}
