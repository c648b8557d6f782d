package cache

import (
	"sort"

	"github.com/oneconcern/datacache/pkg/location"
	"github.com/oneconcern/datacache/pkg/staging"
)

// session holds the state of an initialized cache.
//
// A session is replaced as a whole by Init and dropped as a whole by Destroy:
// nothing from a previous session leaks into the next one.
type session struct {
	area      *staging.Area
	registry  map[string]location.Location
	entries   map[string]*entry
	committed []location.Location
	seen      map[location.Location]struct{}
}

func newSession(area *staging.Area, registry map[string]location.Location) *session {
	return &session{
		area:     area,
		registry: registry,
		entries:  make(map[string]*entry, len(registry)),
		seen:     make(map[location.Location]struct{}),
	}
}

// resolveAll resolves every reference of a key map, failing on the first invalid one
func resolveAll(refs map[string]location.Ref) (map[string]location.Location, string, error) {
	registry := make(map[string]location.Location, len(refs))
	for _, key := range sortedKeys(refs) {
		loc, err := location.Resolve(refs[key])
		if err != nil {
			return nil, key, err
		}
		registry[key] = loc
	}
	return registry, "", nil
}

func (s *session) addCommitted(loc location.Location) {
	if _, ok := s.seen[loc]; ok {
		return
	}
	s.seen[loc] = struct{}{}
	s.committed = append(s.committed, loc)
}

func (s *session) keys() []string {
	return sortedKeys(s.registry)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
