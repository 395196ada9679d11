// Package paths holds the segment-aware helpers for absolute node paths and
// the hashtag aliasing layered over them.
package paths

import "strings"

// Split breaks an absolute path into its segments: "/data/a/b" yields
// [data a b]. The empty path and "/" yield nil.
func Split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join is the inverse of Split.
func Join(segs []string) string {
	return "/" + strings.Join(segs, "/")
}

// HasPrefix reports whether prefix is p or an ancestor of p, comparing whole
// segments: /data/text is not a prefix of /data/text2.
func HasPrefix(p, prefix string) bool {
	if p == prefix || prefix == "/" {
		return strings.HasPrefix(p, prefix)
	}
	return strings.HasPrefix(p, prefix+"/")
}

// ReplacePrefix swaps old for repl at the start of p when old is a segment
// prefix of p.
func ReplacePrefix(p, old, repl string) (string, bool) {
	if !HasPrefix(p, old) {
		return p, false
	}
	return repl + p[len(old):], true
}

// Parent returns the path of the parent node, or "" for a root path.
func Parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// Base returns the last segment.
func Base(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Tail strips the root segment: "/data/group/q" yields "group/q".
func Tail(p string) string {
	segs := Split(p)
	if len(segs) < 2 {
		return ""
	}
	return strings.Join(segs[1:], "/")
}

// Depth is the number of segments.
func Depth(p string) int {
	return len(Split(p))
}
