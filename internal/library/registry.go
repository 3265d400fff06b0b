package library

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded libraries.
type Registry struct {
	sync.RWMutex
	libraries   map[string]*Library   // name -> library
	byNamespace map[string][]*Library // namespace -> libraries
	logger      *zap.Logger
}

// NewRegistry creates a new library registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		libraries:   make(map[string]*Library),
		byNamespace: make(map[string][]*Library),
		logger:      logger.With(zap.String("component", "library-registry")),
	}
}

// Register adds a library to the registry.
func (r *Registry) Register(library *Library) error {
	r.Lock()
	defer r.Unlock()

	name := library.Name()

	if _, exists := r.libraries[name]; exists {
		return &LibraryAlreadyRegisteredError{LibraryName: name}
	}

	r.libraries[name] = library

	ns := library.Namespace()
	r.byNamespace[ns] = append(r.byNamespace[ns], library)

	r.logger.Info("Library registered",
		zap.String("name", name),
		zap.String("namespace", ns),
	)

	return nil
}

// Get retrieves a library by name.
func (r *Registry) Get(name string) (*Library, bool) {
	r.RLock()
	defer r.RUnlock()

	library, ok := r.libraries[name]
	return library, ok
}

// LookupByNamespace finds the libraries registered under a namespace.
func (r *Registry) LookupByNamespace(namespace string) []*Library {
	r.RLock()
	defer r.RUnlock()

	libraries := r.byNamespace[namespace]
	result := make([]*Library, len(libraries))
	copy(result, libraries)
	return result
}

// List returns all registered libraries sorted by name.
func (r *Registry) List() []*Library {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Library, 0, len(r.libraries))
	for _, library := range r.libraries {
		result = append(result, library)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Unregister removes a library from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	library, ok := r.libraries[name]
	if !ok {
		return
	}

	ns := library.Namespace()
	libraries := r.byNamespace[ns]
	for i, l := range libraries {
		if l.Name() == name {
			r.byNamespace[ns] = append(libraries[:i], libraries[i+1:]...)
			break
		}
	}
	if len(r.byNamespace[ns]) == 0 {
		delete(r.byNamespace, ns)
	}

	delete(r.libraries, name)

	r.logger.Info("Library unregistered", zap.String("name", name))
}

// Count returns the number of registered libraries.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.libraries)
}
