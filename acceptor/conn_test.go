package acceptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/protocol"
)

func newTestConn(maxPending int) *wsConn {
	return newWSConn(nil, time.Second, time.Minute, maxPending)
}

func TestPushSupersedesPlainMove(t *testing.T) {
	c := newTestConn(64)
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(1, 1)}}))
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(2, 2)}}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.pending, 1)
	assert.Equal(t, protocol.LonLat(2, 2), c.pending[0].Pos)
}

func TestPushKeepsDistinctEntities(t *testing.T) {
	c := newTestConn(64)
	require.NoError(t, c.Push([]protocol.Update{
		{AgentID: "ag1", Pos: protocol.LonLat(1, 1)},
		{AgentID: "ag2", Pos: protocol.LonLat(1, 1)},
	}))
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(2, 2)}}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.pending, 2)
}

func TestPushNeverSupersedesTransitions(t *testing.T) {
	c := newTestConn(64)
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(1, 1), Entered: true}}))
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(2, 2), Left: true}}))
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(3, 3)}}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.pending, 3)
	assert.True(t, c.pending[0].Entered)
	assert.True(t, c.pending[1].Left)
	assert.False(t, c.pending[2].Transition())
}

func TestPushDropsPlainMovesWhenSaturated(t *testing.T) {
	c := newTestConn(2)
	require.NoError(t, c.Push([]protocol.Update{
		{AgentID: "ag1", Pos: protocol.LonLat(1, 1)},
		{AgentID: "ag2", Pos: protocol.LonLat(1, 1)},
		{AgentID: "ag3", Pos: protocol.LonLat(1, 1)},
	}))

	c.mu.Lock()
	assert.Len(t, c.pending, 2)
	c.mu.Unlock()

	// transitions are still queued past the cap
	require.NoError(t, c.Push([]protocol.Update{{AgentID: "ag4", Pos: protocol.LonLat(1, 1), Entered: true}}))
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.pending, 3)
	assert.True(t, c.pending[2].Entered)
}

func TestPushAfterClose(t *testing.T) {
	c := newTestConn(64)
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	err := c.Push([]protocol.Update{{AgentID: "ag1", Pos: protocol.LonLat(1, 1)}})
	assert.Equal(t, constants.ErrSessionClosed, err)
}
