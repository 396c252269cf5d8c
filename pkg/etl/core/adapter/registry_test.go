package adapter_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/core/adapter"
)

type fakeConn struct {
	name     string
	closed   bool
	closeErr error
}

func (c *fakeConn) Close() error { c.closed = true; return c.closeErr }
func (c *fakeConn) Type() string { return "fake" }
func (c *fakeConn) Name() string { return c.name }

func TestRegistryCachesConnections(t *testing.T) {
	opened := 0
	reg := adapter.NewRegistry[*fakeConn]("fake", func(name string) (*fakeConn, error) {
		opened++
		return &fakeConn{name: name}, nil
	})

	a1, err := reg.GetConnection("a")
	require.NoError(t, err)
	a2, err := reg.GetConnection("a")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, 1, opened)

	a3, err := reg.ForceReconnect("a")
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
	assert.True(t, a1.closed)
	assert.Equal(t, 2, opened)
	assert.Equal(t, "fake", reg.Type())
}

func TestRegistryFactoryErrorAndCloseAll(t *testing.T) {
	reg := adapter.NewRegistry[*fakeConn]("fake", func(name string) (*fakeConn, error) {
		if name == "bad" {
			return nil, errors.New("no such endpoint")
		}
		return &fakeConn{name: name, closeErr: errors.New("close failed")}, nil
	})

	_, err := reg.GetConnection("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake connection 'bad'")

	_, err = reg.GetConnection("x")
	require.NoError(t, err)
	_, err = reg.GetConnection("y")
	require.NoError(t, err)

	err = reg.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}
