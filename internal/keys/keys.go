// Package keys holds the set of valid access keys. The original gateway
// re-scanned the environment on every request; here the set is built once at
// startup and treated as immutable afterwards.
package keys

import (
	"os"
	"strings"
)

type Set struct {
	keys map[string]struct{}
}

// FromEnvironment collects the values of all environment variables whose name
// starts with prefix.
func FromEnvironment(prefix string) *Set {
	return FromEnviron(prefix, os.Environ())
}

// FromEnviron is FromEnvironment over an explicit environment snapshot, in the
// "KEY=value" form returned by os.Environ.
func FromEnviron(prefix string, environ []string) *Set {
	s := &Set{keys: map[string]struct{}{}}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		s.keys[value] = struct{}{}
	}
	return s
}

func (s *Set) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *Set) Len() int {
	return len(s.keys)
}
