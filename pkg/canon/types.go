package canon

import "strings"

// DefaultEntityTypes is used when no entity types are configured.
var DefaultEntityTypes = []string{"Character", "Animal", "Place", "Object", "Activity", "Event"}

// Types is a closed set of entity type tags. Lookups are case-insensitive and
// return the configured spelling.
type Types struct {
	names   []string
	byLower map[string]string
}

// NewTypes creates a type set. Empty and duplicate names are ignored; with no
// names at all the default types are used.
func NewTypes(names ...string) Types {
	t := Types{byLower: make(map[string]string)}
	for _, n := range names {
		n = Normalize(n)
		if n == "" {
			continue
		}
		lower := strings.ToLower(n)
		if _, ok := t.byLower[lower]; ok {
			continue
		}
		t.byLower[lower] = n
		t.names = append(t.names, n)
	}
	if len(t.names) == 0 {
		return NewTypes(DefaultEntityTypes...)
	}
	return t
}

// Names returns the types in configuration order.
func (t Types) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Normalize maps a raw type tag onto the set.
func (t Types) Normalize(raw string) (string, bool) {
	name, ok := t.byLower[strings.ToLower(Normalize(raw))]
	return name, ok
}

// Contains reports whether raw names one of the types.
func (t Types) Contains(raw string) bool {
	_, ok := t.Normalize(raw)
	return ok
}
