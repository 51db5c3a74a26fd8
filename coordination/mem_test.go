package coordination

import (
	"context"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.Create(ctx, "/a/b", []byte("v1")))
	err := s.Create(ctx, "/a/b", []byte("v2"))
	assert.Equal(t, ErrNodeExists, errors.Cause(err))

	node, err := s.Get(ctx, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), node.Data)
	assert.Equal(t, int64(1), node.Version)

	_, err = s.Get(ctx, "/missing")
	assert.Equal(t, ErrNodeNotFound, errors.Cause(err))
}

func TestMemStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Create(ctx, "/a", []byte("v1")))

	require.NoError(t, s.Update(ctx, "/a", []byte("v2"), 1))

	// Stale version loses.
	err := s.Update(ctx, "/a", []byte("v3"), 1)
	assert.Equal(t, ErrVersionConflict, errors.Cause(err))

	node, err := s.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), node.Data)
	assert.Equal(t, int64(2), node.Version)

	err = s.Update(ctx, "/gone", []byte("x"), 1)
	assert.Equal(t, ErrNodeNotFound, errors.Cause(err))
}

func TestMemStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Create(ctx, "/a", []byte("v1")))

	err := s.Delete(ctx, "/a", 99)
	assert.Equal(t, ErrVersionConflict, errors.Cause(err))

	require.NoError(t, s.Delete(ctx, "/a", 1))
	_, err = s.Get(ctx, "/a")
	assert.Equal(t, ErrNodeNotFound, errors.Cause(err))

	// Deleting a missing node is a no-op.
	require.NoError(t, s.Delete(ctx, "/a", 0))
}

func TestMemStoreListAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Create(ctx, "/t/users/cf1", []byte("1")))
	require.NoError(t, s.Create(ctx, "/t/users/cf2", []byte("2")))
	require.NoError(t, s.Create(ctx, "/t/orders/cf1", []byte("3")))

	nodes, err := s.List(ctx, "/t/users/")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "/t/users/cf1", nodes[0].Path)
	assert.Equal(t, "/t/users/cf2", nodes[1].Path)

	require.NoError(t, s.DeletePrefix(ctx, "/t/users"))
	nodes, err = s.List(ctx, "/t/")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "/t/orders/cf1", nodes[0].Path)
}

func TestMemStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemStore()

	ch, err := s.Watch(ctx, "/t/")
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, "/t/a", []byte("v1")))
	require.NoError(t, s.Create(ctx, "/other", []byte("x")))
	require.NoError(t, s.Delete(ctx, "/t/a", 0))

	ev := <-ch
	assert.Equal(t, EventPut, ev.Type)
	assert.Equal(t, "/t/a", ev.Node.Path)

	ev = <-ch
	assert.Equal(t, EventDelete, ev.Type)
	assert.Equal(t, "/t/a", ev.Node.Path)
}
