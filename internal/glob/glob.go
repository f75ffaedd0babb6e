// Package glob compiles `*`/`?` wildcard patterns into regular
// expressions once and shares them process-wide, the same caching
// shape as the teacher's address-resolver cache in raft/resolver.go:
// a sync.Map guarding a lazily-populated, immutable-once-built value.
package glob

import (
	"regexp"
	"strings"
	"sync"
)

var compiled sync.Map // pattern string -> *regexp.Regexp

// Match reports whether s matches the glob pattern, where `*` matches
// any run of characters and `?` matches exactly one.
func Match(pattern, s string) bool {
	return compile(pattern).MatchString(s)
}

func compile(pattern string) *regexp.Regexp {
	if v, ok := compiled.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile("^" + toRegex(pattern) + "$")
	actual, _ := compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

func toRegex(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
