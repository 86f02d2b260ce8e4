package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
)

// lifecycleProbe records the lifecycle calls it receives.
type lifecycleProbe struct {
	name     string
	log      *[]string
	initErr  error
	initDone bool
}

func (p *lifecycleProbe) Initialise(context.Context) error {
	*p.log = append(*p.log, "init:"+p.name)
	p.initDone = p.initErr == nil
	return p.initErr
}

func (p *lifecycleProbe) Stop(time.Duration) error {
	*p.log = append(*p.log, "stop:"+p.name)
	return nil
}

func TestRegistry_InsertFind(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("A", 1))
	require.NoError(t, r.Insert("B", "two"))

	obj, ok := r.Find("A")
	require.True(t, ok)
	assert.Equal(t, 1, obj)

	_, ok = r.Find("C")
	assert.False(t, ok)
	_, ok = r.Find("A.child")
	assert.False(t, ok, "A is not a container")

	assert.Equal(t, []string{"A", "B"}, r.List())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_InsertInvalid(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("A", 1))

	tests := []struct {
		name string
		key  string
		obj  any
	}{
		{"empty name", "", 1},
		{"dotted name", "A.B", 1},
		{"nil object", "N", nil},
		{"duplicate", "A", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Insert(tt.key, tt.obj)
			assert.ErrorIs(t, err, errors.ErrParameters)
		})
	}
}

func TestRegistry_FindNested(t *testing.T) {
	r := New()
	inner := NewGroup("Inner")
	require.NoError(t, inner.Add("Leaf", 42))
	outer := NewGroup("Outer")
	require.NoError(t, outer.Add("Inner", inner))
	require.NoError(t, r.Insert("Outer", outer))

	obj, ok := r.Find("Outer.Inner.Leaf")
	require.True(t, ok)
	assert.Equal(t, 42, obj)

	obj, ok = r.Find("Outer.Inner")
	require.True(t, ok)
	assert.Same(t, inner, obj)

	_, ok = r.Find("Outer.Missing.Leaf")
	assert.False(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("A", 1))
	require.NoError(t, r.Remove("A"))
	assert.Empty(t, r.List())

	err := r.Remove("A")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, errors.KindUnsupportedFeature, errors.KindOf(err))
}

func TestRegistry_PurgeReverseOrder(t *testing.T) {
	var log []string
	r := New()
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, r.Insert(name, &lifecycleProbe{name: name, log: &log}))
	}
	require.NoError(t, r.Insert("plain", 7))

	require.NoError(t, r.Purge(context.Background(), time.Second))
	assert.Equal(t, []string{"stop:C", "stop:B", "stop:A"}, log)
	assert.Zero(t, r.Len())
}

func TestRegistry_Classes(t *testing.T) {
	r := New()
	factory := func(node *config.Node, _ *Registry) (any, error) {
		return node.String("Value", ""), nil
	}
	require.NoError(t, r.RegisterClass(&Registration{Name: "Text", Factory: factory}))
	assert.ErrorIs(t, r.RegisterClass(&Registration{Name: "Text", Factory: factory}), errors.ErrParameters)
	assert.ErrorIs(t, r.RegisterClass(&Registration{Name: "NoFactory"}), errors.ErrParameters)
	assert.Equal(t, []string{"Text"}, r.Classes())

	node, err := config.Parse([]byte("Class: Text\nValue: hello\n"))
	require.NoError(t, err)
	obj, err := r.Build(node)
	require.NoError(t, err)
	assert.Equal(t, "hello", obj)

	node, err = config.Parse([]byte("Class: Unknown\n"))
	require.NoError(t, err)
	_, err = r.Build(node)
	assert.ErrorIs(t, err, ErrUnknownClass)

	node, err = config.Parse([]byte("Value: x\n"))
	require.NoError(t, err)
	_, err = r.Build(node)
	assert.ErrorIs(t, err, errors.ErrParameters)
}

func TestRegistry_Initialise(t *testing.T) {
	var log []string
	r := New()
	require.NoError(t, r.RegisterClass(&Registration{
		Name: "Probe",
		Factory: func(node *config.Node, _ *Registry) (any, error) {
			p := &lifecycleProbe{name: node.Name(), log: &log}
			if node.String("Fail", "") != "" {
				p.initErr = fmt.Errorf("%w: probe failure", errors.ErrFatal)
			}
			return p, nil
		},
	}))
	require.NoError(t, r.RegisterClass(&Registration{
		Name: "Group",
		Factory: func(node *config.Node, r *Registry) (any, error) {
			return GroupFromConfig(node, r)
		},
	}))

	root, err := config.Parse([]byte(`
+First:
  Class: Probe
+Things:
  Class: Group
  +Nested:
    Class: Probe
`))
	require.NoError(t, err)
	require.NoError(t, r.Initialise(context.Background(), root))

	assert.Equal(t, []string{"First", "Things"}, r.List())
	assert.Equal(t, []string{"init:First", "init:Nested"}, log)

	nested, ok := r.Find("Things.Nested")
	require.True(t, ok)
	assert.True(t, nested.(*lifecycleProbe).initDone)

	log = nil
	require.NoError(t, r.Purge(context.Background(), time.Second))
	assert.Equal(t, []string{"stop:Nested", "stop:First"}, log)
}

func TestRegistry_InitialiseAbortsOnFailure(t *testing.T) {
	var log []string
	r := New()
	require.NoError(t, r.RegisterClass(&Registration{
		Name: "Probe",
		Factory: func(node *config.Node, _ *Registry) (any, error) {
			p := &lifecycleProbe{name: node.Name(), log: &log}
			if node.String("Fail", "") != "" {
				p.initErr = fmt.Errorf("%w: probe failure", errors.ErrFatal)
			}
			return p, nil
		},
	}))

	root, err := config.Parse([]byte(`
+A:
  Class: Probe
  Fail: "yes"
+B:
  Class: Probe
`))
	require.NoError(t, err)

	err = r.Initialise(context.Background(), root)
	assert.ErrorIs(t, err, errors.ErrFatal)
	assert.Equal(t, []string{"init:A"}, log, "B is never initialised")
	assert.Equal(t, []string{"A", "B"}, r.List())
}
