package intercept

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// A Registry holds the handler classes and their instances. Each class is
// instantiated at most once; the construction arguments of the first
// request win.
type Registry struct {
	lock sync.Mutex

	env       *Env
	classes   map[string]Class
	instances map[string]Handler
}

// NewRegistry creates an empty registry whose handlers see env.
func NewRegistry(env *Env) *Registry {
	return &Registry{
		env:       env,
		classes:   make(map[string]Class),
		instances: make(map[string]Handler),
	}
}

// RegisterClass adds a handler class to the catalog.
func (r *Registry) RegisterClass(c Class) {
	if c.Name == "" || c.New == nil {
		panic("handler class must have a name and a constructor")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.classes[c.Name]; ok {
		panic(fmt.Sprintf("handler class %s already registered", c.Name))
	}

	r.classes[c.Name] = c
}

// Classes returns the names of the registered classes, sorted.
func (r *Registry) Classes() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// GetOrCreate returns the instance of a class, constructing it with args on
// first use. Later calls ignore args.
func (r *Registry) GetOrCreate(class string, args Args) (Handler, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if h, ok := r.instances[class]; ok {
		return h, nil
	}

	c, ok := r.classes[class]
	if !ok {
		return nil, &ConfigError{Class: class, Msg: "unknown handler class"}
	}

	for _, k := range args.Keys() {
		if !slices.Contains(c.Params, k) {
			return nil, &ConfigError{
				Class: class,
				Msg: fmt.Sprintf("unexpected class argument %q, accepted: %v",
					k, c.Params),
			}
		}
	}

	h, err := c.New(r.env, args)
	if err != nil {
		return nil, &ConfigError{Class: class, Msg: "construction failed", Err: err}
	}

	if err := entriesMustBeUnique(h); err != nil {
		return nil, &ConfigError{Class: class, Msg: err.Error()}
	}

	r.instances[class] = h

	return h, nil
}

// Instance returns the instance of a class if it exists.
func (r *Registry) Instance(class string) (Handler, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	h, ok := r.instances[class]

	return h, ok
}

// Instances returns all the instances, by class name.
func (r *Registry) Instances() map[string]Handler {
	r.lock.Lock()
	defer r.lock.Unlock()

	m := make(map[string]Handler, len(r.instances))
	for k, v := range r.instances {
		m[k] = v
	}

	return m
}

func entriesMustBeUnique(h Handler) error {
	seen := make(map[string]EntryPoint)
	for _, e := range h.Entries() {
		for _, alias := range append([]string{string(e.Name)}, e.Aliases...) {
			if prev, ok := seen[alias]; ok && prev != e.Name {
				return fmt.Errorf("alias %q declared by entry points %s and %s",
					alias, prev, e.Name)
			}

			seen[alias] = e.Name
		}
	}

	return nil
}

// findEntry returns the entry point of h that answers to function. Entries
// naming the function win over a catch-all entry.
func findEntry(h Handler, function string) (HandlerEntry, bool) {
	entries := h.Entries()

	for _, e := range entries {
		if e.answersTo(function) {
			return e, true
		}
	}

	for _, e := range entries {
		if e.answersTo(AnyFunction) {
			return e, true
		}
	}

	return HandlerEntry{}, false
}
