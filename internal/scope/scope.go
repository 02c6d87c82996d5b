// Package scope decides whether file paths fall inside a task's writable
// file scope, using the allowed/blocked glob lists carried on the task.
package scope

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates slash-separated paths against allowed and blocked
// patterns. Blocked patterns win over allowed ones; an empty allowed list
// means everything not blocked is in scope.
type Matcher struct {
	allowed []string
	blocked []string
}

// New builds a Matcher from glob pattern lists. Patterns use doublestar
// syntax, so "src/**" matches arbitrarily nested files.
func New(allowed, blocked []string) *Matcher {
	return &Matcher{
		allowed: append([]string(nil), allowed...),
		blocked: append([]string(nil), blocked...),
	}
}

// Allows reports whether path is inside scope. Malformed patterns never
// match.
func (m *Matcher) Allows(path string) bool {
	for _, pat := range m.blocked {
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return false
		}
	}
	if len(m.allowed) == 0 {
		return true
	}
	for _, pat := range m.allowed {
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Violations returns the paths outside scope, preserving input order.
func (m *Matcher) Violations(paths []string) []string {
	var out []string
	for _, p := range paths {
		if !m.Allows(p) {
			out = append(out, p)
		}
	}
	return out
}
