package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
)

// PathSeparator separates the segments of a dotted object path.
const PathSeparator = "."

// Container is implemented by objects that hold named children reachable
// through dotted paths.
type Container interface {
	Find(path string) (any, bool)
}

// Initialiser is implemented by objects that need a second phase after every
// object of a tree has been inserted.
type Initialiser interface {
	Initialise(ctx context.Context) error
}

// Stopper is implemented by objects owning goroutines.
type Stopper interface {
	Stop(timeout time.Duration) error
}

// Purger is implemented by objects with a full teardown. It is preferred
// over Stop when an object implements both.
type Purger interface {
	Purge(ctx context.Context, timeout time.Duration) error
}

// Factory builds an object of one class from its configuration section.
// Factories do no I/O; goroutines are started by Initialise.
type Factory func(node *config.Node, r *Registry) (any, error)

// Registration holds a factory and its metadata.
type Registration struct {
	Name        string
	Description string
	Factory     Factory
}

// Registry is the name to object database messages are routed through.
// It also holds the class factories used to build objects from configuration.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]any
	order   []string
	classes map[string]*Registration
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		objects: make(map[string]any),
		classes: make(map[string]*Registration),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert adds obj under name. Names are unique and cannot contain the path separator.
func (r *Registry) Insert(name string, obj any) error {
	if err := validateName(name); err != nil {
		return errors.WrapInvalid(err, "Registry", "Insert", "name validation")
	}
	if obj == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil object %q", errors.ErrParameters, name), "Registry", "Insert", "object validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.objects[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", ErrDuplicateObject, name), "Registry", "Insert", "duplicate check")
	}
	r.objects[name] = obj
	r.order = append(r.order, name)
	return nil
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, PathSeparator) {
		return fmt.Errorf("%w: invalid object name %q", errors.ErrParameters, name)
	}
	return nil
}

// Find resolves a dotted path. The first segment names a registered object;
// the rest is resolved by that object when it is a Container.
func (r *Registry) Find(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, PathSeparator)

	r.mu.RLock()
	obj, ok := r.objects[head]
	r.mu.RUnlock()
	if !ok || !nested {
		return obj, ok
	}

	container, ok := obj.(Container)
	if !ok {
		return nil, false
	}
	return container.Find(rest)
}

// Remove deletes the object registered under name without stopping it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[name]; !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", ErrObjectNotFound, name), "Registry", "Remove", "object lookup")
	}
	delete(r.objects, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return nil
}

// List returns the registered names in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Purge tears down every object in reverse insertion order and empties the
// registry. Teardown failures are logged and returned together.
func (r *Registry) Purge(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	order := r.order
	objects := r.objects
	r.order = nil
	r.objects = make(map[string]any)
	r.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(order) {
		if err := teardown(ctx, objects[name], timeout); err != nil {
			r.logger.Error("Failed to tear down object", "object", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Registry", "Purge", "teardown")
	}
	return nil
}

func teardown(ctx context.Context, obj any, timeout time.Duration) error {
	switch o := obj.(type) {
	case Purger:
		return o.Purge(ctx, timeout)
	case Stopper:
		return o.Stop(timeout)
	}
	return nil
}

// RegisterClass registers a factory under a class name.
func (r *Registry) RegisterClass(reg *Registration) error {
	if reg == nil || reg.Name == "" || reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterClass", "registration validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[reg.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: class '%s' is already registered", errors.ErrParameters, reg.Name), "Registry", "RegisterClass", "duplicate class check")
	}
	r.classes[reg.Name] = reg
	return nil
}

// Classes returns the registered class names sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.classes))
}

// Build creates the object described by node through the factory of its class.
// It does not insert the object.
func (r *Registry) Build(node *config.Node) (any, error) {
	class := node.Class()
	if class == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: Class of %q", errors.ErrMissingConfig, node.Name()), "Registry", "Build", "class lookup")
	}

	r.mu.RLock()
	reg, ok := r.classes[class]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q for %q", ErrUnknownClass, class, node.Name()), "Registry", "Build", "class lookup")
	}

	obj, err := reg.Factory(node, r)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Build", class+" "+node.Name())
	}
	return obj, nil
}

// Initialise builds every child section of root, inserts it under its
// section name and then initialises, in order, the objects implementing
// Initialiser. The first failure aborts; objects already inserted stay in
// the registry so the caller can Purge them.
func (r *Registry) Initialise(ctx context.Context, root *config.Node) error {
	var built []string
	for _, child := range root.Children() {
		obj, err := r.Build(child)
		if err != nil {
			return err
		}
		if err := r.Insert(child.Name(), obj); err != nil {
			return err
		}
		built = append(built, child.Name())
	}

	for _, name := range built {
		obj, _ := r.Find(name)
		init, ok := obj.(Initialiser)
		if !ok {
			continue
		}
		if err := init.Initialise(ctx); err != nil {
			return errors.Wrap(err, "Registry", "Initialise", name)
		}
		r.logger.Debug("Object initialised", "object", name)
	}
	return nil
}
