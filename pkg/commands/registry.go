package commands

import "strings"

// Registry indexes definitions by name and alias. The first definition to
// claim a name wins.
type Registry struct {
	defs  []Definition
	index map[string]int
}

func NewRegistry(defs []Definition) *Registry {
	r := &Registry{defs: defs, index: make(map[string]int, len(defs))}
	for i, d := range defs {
		for _, name := range append([]string{d.Name}, d.Aliases...) {
			name = strings.ToLower(name)
			if _, taken := r.index[name]; name != "" && !taken {
				r.index[name] = i
			}
		}
	}
	return r
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

func (r *Registry) Len() int { return len(r.defs) }
