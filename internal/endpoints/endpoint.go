// Package endpoints defines the endpoint value type and the pure set
// algebra used to compute grant and revoke deltas.
package endpoints

import "sort"

// Endpoint identifies a single HTTP surface as (method, path template).
// Equality is exact; no pattern matching is performed.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Set is an unordered collection of endpoints with exact-match semantics.
type Set map[Endpoint]struct{}

// NewSet builds a Set from the given endpoints, dropping duplicates.
func NewSet(eps ...Endpoint) Set {
	s := make(Set, len(eps))
	for _, ep := range eps {
		s[ep] = struct{}{}
	}
	return s
}

// Add inserts an endpoint into the set.
func (s Set) Add(ep Endpoint) {
	s[ep] = struct{}{}
}

// Contains reports whether the endpoint is in the set.
func (s Set) Contains(ep Endpoint) bool {
	_, ok := s[ep]
	return ok
}

// Diff returns a new set holding the endpoints of s not present in other.
func (s Set) Diff(other Set) Set {
	out := make(Set)
	for ep := range s {
		if _, ok := other[ep]; !ok {
			out[ep] = struct{}{}
		}
	}
	return out
}

// Union returns a new set holding every endpoint of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for ep := range s {
		out[ep] = struct{}{}
	}
	for ep := range other {
		out[ep] = struct{}{}
	}
	return out
}

// List returns the endpoints sorted by method then path. Callers must
// not rely on the ordering for correctness; it exists to keep logs and
// outbound request bodies stable.
func (s Set) List() []Endpoint {
	out := make([]Endpoint, 0, len(s))
	for ep := range s {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Path < out[j].Path
	})
	return out
}
