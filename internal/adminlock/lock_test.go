package adminlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksOnlyHolder(t *testing.T) {
	l := New()
	assert.False(t, l.IsBlocked("a"))

	l.Acquire("a")
	assert.True(t, l.Active())
	assert.True(t, l.IsBlocked("a"))
	assert.False(t, l.IsBlocked("b"))

	holder, active := l.Holder()
	assert.True(t, active)
	assert.Equal(t, "a", holder.String())
}

func TestLastAcquirerWins(t *testing.T) {
	l := New()
	l.Acquire("a")
	l.Acquire("b")

	assert.False(t, l.IsBlocked("a"))
	assert.True(t, l.IsBlocked("b"))
	assert.ErrorIs(t, l.Release("a"), ErrNotHolder)
	assert.True(t, l.Active())
}

func TestRelease(t *testing.T) {
	l := New()
	assert.ErrorIs(t, l.Release("a"), ErrNotHolder, "releasing an inactive lock is rejected")

	l.Acquire("a")
	require.NoError(t, l.Release("a"))
	assert.False(t, l.Active())
	assert.False(t, l.IsBlocked("a"))
	_, active := l.Holder()
	assert.False(t, active)
}
