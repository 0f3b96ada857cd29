package identity

// Set is an insertion-ordered set of identifiers compared by exact string
// equality. The first occurrence of an identifier keeps its position.
type Set struct {
	values []string
	seen   map[string]struct{}
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add appends the ids not already present and reports how many were added.
func (s *Set) Add(ids ...string) int {
	added := 0
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.values = append(s.values, id)
		added++
	}
	return added
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of identifiers.
func (s *Set) Len() int {
	return len(s.values)
}

// Values returns a copy of the identifiers in insertion order. It is never nil.
func (s *Set) Values() []string {
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}
