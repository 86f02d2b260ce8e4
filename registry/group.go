package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
)

type member struct {
	name string
	obj  any
}

// Group is an ordered container of named objects, built from the child
// sections of a configuration node. It forwards the lifecycle to its members.
type Group struct {
	name    string
	members []member
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// GroupFromConfig builds every child section of node through r.
func GroupFromConfig(node *config.Node, r *Registry) (*Group, error) {
	g := NewGroup(node.Name())
	for _, child := range node.Children() {
		obj, err := r.Build(child)
		if err != nil {
			return nil, errors.Wrap(err, "Group", "FromConfig", g.name)
		}
		if err := g.Add(child.Name(), obj); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Add appends obj under name, unique within the group.
func (g *Group) Add(name string, obj any) error {
	if err := validateName(name); err != nil {
		return errors.WrapInvalid(err, "Group", "Add", g.name)
	}
	if _, ok := g.Get(name); ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", ErrDuplicateObject, name), "Group", "Add", g.name)
	}
	g.members = append(g.members, member{name: name, obj: obj})
	return nil
}

// Get returns the direct member named name.
func (g *Group) Get(name string) (any, bool) {
	i := slices.IndexFunc(g.members, func(m member) bool { return m.name == name })
	if i < 0 {
		return nil, false
	}
	return g.members[i].obj, true
}

// Names returns the member names in order.
func (g *Group) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Len returns the number of members.
func (g *Group) Len() int { return len(g.members) }

// Find implements Container.
func (g *Group) Find(path string) (any, bool) {
	head, rest, nested := strings.Cut(path, PathSeparator)
	obj, ok := g.Get(head)
	if !ok || !nested {
		return obj, ok
	}
	container, ok := obj.(Container)
	if !ok {
		return nil, false
	}
	return container.Find(rest)
}

// Initialise implements Initialiser for the members that need it.
func (g *Group) Initialise(ctx context.Context) error {
	for _, m := range g.members {
		if init, ok := m.obj.(Initialiser); ok {
			if err := init.Initialise(ctx); err != nil {
				return errors.Wrap(err, "Group", "Initialise", g.name+PathSeparator+m.name)
			}
		}
	}
	return nil
}

// Purge implements Purger, tearing members down in reverse order.
func (g *Group) Purge(ctx context.Context, timeout time.Duration) error {
	var errs []error
	for _, m := range slices.Backward(g.members) {
		if err := teardown(ctx, m.obj, timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		}
	}
	return stderrors.Join(errs...)
}
