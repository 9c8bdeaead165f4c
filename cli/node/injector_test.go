package node

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReflectInjector_Resolve(t *testing.T) {
	inj := NewInjector()

	inj.Inject("abc")

	var dep string
	err := inj.Resolve(&dep)
	require.NoError(t, err)
	require.Equal(t, "abc", dep)

	inj.Inject("def")

	err = inj.Resolve(&dep)
	require.NoError(t, err)
	require.Equal(t, "def", dep)

	var dep2 uint64
	err = inj.Resolve(&dep2)
	require.EqualError(t, err, "couldn't find dependency for 'uint64'")

	err = inj.Resolve((*string)(nil))
	require.EqualError(t, err, "reflect value '<nil>' is invalid")

	err = inj.Resolve(dep2)
	require.EqualError(t, err, "expect a pointer")
}

func TestReflectInjector_ResolveInterface(t *testing.T) {
	inj := NewInjector()

	inj.Inject(fakeStringer("first"))
	inj.Inject(new(fakeStringer))

	var dep fmt.Stringer
	err := inj.Resolve(&dep)
	require.NoError(t, err)
	require.Equal(t, "first", dep.String())
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeStringer string

func (s fakeStringer) String() string {
	return string(s)
}
