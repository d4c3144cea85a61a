// Package registry provides process definition registration and name
// resolution. Scenario files refer to processes by name; the registry maps
// those names to definitions loaded from Go code or Starlark files.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapsim/pkg/process"
)

// Builtin is the source recorded for definitions registered from Go code.
const Builtin = "<builtin>"

// Registry maps process names to definitions.
type Registry struct {
	mu sync.RWMutex

	// byName maps definition names to definitions: "uplift" → *Definition
	byName map[string]*process.Definition

	// bySource maps a source file to the names it registered, in
	// registration order
	bySource map[string][]string

	// sourceOf maps definition names back to their source
	sourceOf map[string]string
}

// New creates a new empty registry.
func New() *Registry {
	return &Registry{
		byName:   make(map[string]*process.Definition),
		bySource: make(map[string][]string),
		sourceOf: make(map[string]string),
	}
}

// Register adds a definition loaded from source. A source may re-register
// its own definitions; registering a name owned by another source fails.
func (r *Registry) Register(def *process.Definition, source string) error {
	if source == "" {
		source = Builtin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := def.Name()
	if owner, exists := r.sourceOf[name]; exists && owner != source {
		return fmt.Errorf("process %q from %s is already defined in %s", name, source, owner)
	}
	if _, exists := r.byName[name]; !exists {
		r.bySource[source] = append(r.bySource[source], name)
	}
	r.byName[name] = def
	r.sourceOf[name] = source
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(defs ...*process.Definition) {
	for _, def := range defs {
		if err := r.Register(def, Builtin); err != nil {
			panic(err)
		}
	}
}

// RemoveSource drops every definition registered by source. Used when a
// file is reloaded or deleted.
func (r *Registry) RemoveSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.bySource[source] {
		delete(r.byName, name)
		delete(r.sourceOf, name)
	}
	delete(r.bySource, source)
}

// Resolve looks up a definition by name. A qualified name such as
// "erosion.diffusion" falls back to its last component.
func (r *Registry) Resolve(name string) (*process.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.byName[name]; ok {
		return def, true
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		if def, ok := r.byName[name[i+1:]]; ok {
			return def, true
		}
	}
	return nil, false
}

// Get returns the definition registered under the exact name.
func (r *Registry) Get(name string) (*process.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// Source returns the source a definition was registered from.
func (r *Registry) Source(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sourceOf[name]
	return source, ok
}

// All returns every registered definition sorted by name.
func (r *Registry) All() []*process.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*process.Definition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name() < defs[j].Name() })
	return defs
}

// Sources returns every source that registered at least one definition,
// sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.bySource))
	for source, names := range r.bySource {
		if len(names) > 0 {
			sources = append(sources, source)
		}
	}
	sort.Strings(sources)
	return sources
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// ResolveAll resolves a list of names, separating the known definitions
// (deduplicated) from the names that match nothing (deduplicated).
func (r *Registry) ResolveAll(names []string) (defs []*process.Definition, missing []string) {
	seenDefs := make(map[*process.Definition]struct{})
	seenMissing := make(map[string]struct{})

	for _, name := range names {
		if def, ok := r.Resolve(name); ok {
			if _, seen := seenDefs[def]; !seen {
				seenDefs[def] = struct{}{}
				defs = append(defs, def)
			}
			continue
		}
		if _, seen := seenMissing[name]; !seen {
			seenMissing[name] = struct{}{}
			missing = append(missing, name)
		}
	}
	return defs, missing
}
