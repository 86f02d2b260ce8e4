package message

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

func TestMethodTable_Register(t *testing.T) {
	table := NewMethodTable()
	noop := Func0(func() error { return nil })

	require.NoError(t, table.Register("B", noop))
	require.NoError(t, table.Register("A", noop))
	assert.Equal(t, []string{"A", "B"}, table.Names())

	assert.ErrorIs(t, table.Register("A", noop), errors.ErrParameters)
	assert.ErrorIs(t, table.Register("", noop), errors.ErrParameters)
	assert.ErrorIs(t, table.Register("C", nil), errors.ErrParameters)
}

func TestMethodTable_Call(t *testing.T) {
	ctx := context.Background()
	table := NewMethodTable()

	var got []any
	require.NoError(t, table.Register("F1", Func1(func(a string) error {
		got = append(got, a)
		return nil
	})))
	require.NoError(t, table.Register("F3", Func3(func(a int, b string, c bool) error {
		got = append(got, a, b, c)
		return nil
	})))

	require.NoError(t, table.Call(ctx, "F1", New("R", "F1", WithPayload("x"))))
	require.NoError(t, table.Call(ctx, "F3", New("R", "F3", WithPayload(1, "y", true))))
	assert.Equal(t, []any{"x", 1, "y", true}, got)

	err := table.Call(ctx, "Missing", New("R", "Missing"))
	assert.ErrorIs(t, err, ErrMethodNotFound)
	assert.Equal(t, errors.KindUnsupportedFeature, errors.KindOf(err))
}

func TestRefMethods_WriteBack(t *testing.T) {
	ctx := context.Background()

	msg := New("R", "F", WithPayload(1, 2, 3))
	require.NoError(t, Ref3(func(a, b, c *int) error {
		*a, *b, *c = *c, *b, *a
		return nil
	}).Call(ctx, msg))
	assert.Equal(t, []any{3, 2, 1}, msg.Payload())

	msg = New("R", "F", WithPayload("in"))
	require.NoError(t, Ref1(func(s *string) error {
		*s += "-out"
		return nil
	}).Call(ctx, msg))
	assert.Equal(t, []any{"in-out"}, msg.Payload())

	err := Ref1(func(*string) error { return nil }).Call(ctx, New("R", "F", WithPayload(7)))
	assert.ErrorIs(t, err, ErrPrototypeMismatch)
}

func TestFunc0_IgnoresPayload(t *testing.T) {
	called := false
	err := Func0(func() error {
		called = true
		return nil
	}).Call(context.Background(), New("R", "F", WithPayload(1, 2)))
	require.NoError(t, err)
	assert.True(t, called)
}
