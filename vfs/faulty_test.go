package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultyPassThrough(t *testing.T) {
	ctx := context.Background()
	f := NewFaulty(nil)

	require.NoError(t, f.Write(ctx, "mem://arr/a.dat", []byte("hello")))
	buf := make([]byte, 5)
	require.NoError(t, f.ReadAt(ctx, "mem://arr/a.dat", 0, buf))
	assert.Equal(t, "hello", string(buf))
}

func TestFaultyFailWrite(t *testing.T) {
	ctx := context.Background()
	f := NewFaulty(nil)
	f.SetFault("a.dat", Fault{FailWrite: true})

	assert.ErrorIs(t, f.Write(ctx, "mem://arr/a.dat", []byte("x")), ErrInjected)
	assert.NoError(t, f.Write(ctx, "mem://arr/b.dat", []byte("x")))
}

func TestFaultyFailAfterBytes(t *testing.T) {
	ctx := context.Background()
	f := NewFaulty(nil)
	f.SetFault("a.dat", Fault{FailAfterBytes: 4})

	require.NoError(t, f.Write(ctx, "mem://arr/a.dat", []byte("ab")))
	require.NoError(t, f.Write(ctx, "mem://arr/a.dat", []byte("cd")))
	assert.ErrorIs(t, f.Write(ctx, "mem://arr/a.dat", []byte("e")), ErrInjected)
}

func TestFaultyUnsetThresholdPassesWrites(t *testing.T) {
	ctx := context.Background()
	f := NewFaulty(nil)

	// A rule installed for another operation must not trip writes just
	// because its byte threshold is left at the zero value.
	f.SetFault("a.dat", Fault{FailRead: true})

	require.NoError(t, f.Write(ctx, "mem://arr/a.dat", []byte("hello")))
	buf := make([]byte, 5)
	assert.ErrorIs(t, f.ReadAt(ctx, "mem://arr/a.dat", 0, buf), ErrInjected)
}
