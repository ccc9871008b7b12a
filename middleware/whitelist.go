package middleware

import (
	"fmt"
	"path"
	"strings"
)

// Whitelist is an ordered list of path patterns exempt from authentication.
// A "**" segment matches zero or more path segments; any other segment is
// matched with path.Match, so "/public/**" covers "/public" and everything
// below it.
type Whitelist struct {
	patterns []string
	segments [][]string
}

// NewWhitelist compiles the patterns, rejecting malformed globs
func NewWhitelist(patterns []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segs := splitPath(p)
		for _, seg := range segs {
			if seg == "**" {
				continue
			}
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("invalid whitelist pattern %q: %w", p, err)
			}
		}
		w.patterns = append(w.patterns, p)
		w.segments = append(w.segments, segs)
	}
	return w, nil
}

// Matches reports whether the path is covered by any pattern
func (w *Whitelist) Matches(requestPath string) bool {
	if w == nil || len(w.segments) == 0 {
		return false
	}
	segs := splitPath(path.Clean("/" + requestPath))
	for _, pattern := range w.segments {
		if matchSegments(pattern, segs) {
			return true
		}
	}
	return false
}

// Patterns returns the patterns in configured order
func (w *Whitelist) Patterns() []string {
	if w == nil {
		return nil
	}
	return append([]string(nil), w.patterns...)
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pattern[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], segs[0]); err != nil || !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}
