package router

import (
	"errors"
	"net/url"
	"strings"
)

// Path cleaning errors.
var (
	ErrBackslashInPath      = errors.New("router: path contains backslash")
	ErrNullByteInPath       = errors.New("router: path contains null byte")
	ErrInvalidPercentEscape = errors.New("router: invalid percent escape")
	ErrPathEscapesRoot      = errors.New("router: path escapes root")
)

// CleanPath returns the canonical form of a request path: duplicate slashes
// collapsed and "." and ".." segments resolved. A trailing slash is kept.
// changed reports whether the result differs from path.
//
// Paths with backslashes, NUL bytes, malformed percent escapes or a ".."
// above the root are rejected.
func CleanPath(path string) (clean string, changed bool, err error) {
	if path == "" {
		return "/", true, nil
	}
	if strings.Contains(path, "\\") {
		return "", false, ErrBackslashInPath
	}
	if strings.Contains(path, "\x00") || strings.Contains(strings.ToUpper(path), "%00") {
		return "", false, ErrNullByteInPath
	}
	if strings.Contains(path, "%") {
		if _, err := url.PathUnescape(path); err != nil {
			return "", false, ErrInvalidPercentEscape
		}
	}

	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return "", false, ErrPathEscapesRoot
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}

	clean = "/" + strings.Join(out, "/")
	if len(out) > 0 && strings.HasSuffix(path, "/") {
		clean += "/"
	}
	return clean, clean != path, nil
}

// IsLocalURL reports whether target is a path on the same site, suitable
// as a redirect destination taken from client input.
func IsLocalURL(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
