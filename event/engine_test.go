package event

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/geo"
)

type fixture struct {
	t      *testing.T
	store  *entity.Store
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	store := entity.NewStore(geo.NewIndex())
	return &fixture{t: t, store: store, engine: NewEngine(store)}
}

func (f *fixture) agent(connID, id string, lat, lon float64, res *Result) {
	_, err := f.store.CreateAgent(connID, id)
	require.NoError(f.t, err)
	f.moveAgent(connID, lat, lon, res)
}

func (f *fixture) moveAgent(connID string, lat, lon float64, res *Result) {
	ch, err := f.store.MoveAgent(connID, lat, lon)
	require.NoError(f.t, err)
	f.engine.React(ch, res)
}

func (f *fixture) view(connID, id string, b geo.Bounds, res *Result) {
	_, err := f.store.CreateView(connID, id)
	require.NoError(f.t, err)
	f.moveView(connID, b, res)
}

func (f *fixture) moveView(connID string, b geo.Bounds, res *Result) {
	ch, err := f.store.MoveView(connID, b)
	require.NoError(f.t, err)
	f.engine.React(ch, res)
}

func (f *fixture) beacon(id string, b geo.Bounds, creator string, res *Result) {
	ch, err := f.store.CreateAirBeacon(id, b, creator, nil)
	require.NoError(f.t, err)
	f.engine.React(ch, res)
}

func TestViewSeesExistingAgent(t *testing.T) {
	f := newFixture(t)
	f.agent("connA", "ag1", 5, 5, NewResult())

	res := NewResult()
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), res)

	batch := res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.Equal(t, "ag1", batch[0].AgentID)
	assert.True(t, batch[0].Entered)
	assert.False(t, batch[0].Left)
	assert.Equal(t, []float64{5, 5}, batch[0].Pos)
	assert.Empty(t, res.BeaconEvents)
}

func TestAgentEntersAndLeavesView(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())
	f.agent("connA", "ag1", 50, 50, NewResult())

	res := NewResult()
	f.moveAgent("connA", 5, 5, res)
	require.Len(t, res.Batches["connV"], 1)
	assert.True(t, res.Batches["connV"][0].Entered)

	res = NewResult()
	f.moveAgent("connA", 50, 50, res)
	batch := res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.True(t, batch[0].Left)
	// left events still carry the position the point moved to
	assert.Equal(t, []float64{50, 50}, batch[0].Pos)

	// the mover itself holds no view and receives nothing
	assert.NotContains(t, res.Batches, "connA")
}

func TestIntraViewMoveIsPlainUpdate(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())
	f.agent("connA", "ag1", 2, 2, NewResult())

	res := NewResult()
	f.moveAgent("connA", 3, 3, res)
	batch := res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.False(t, batch[0].Entered)
	assert.False(t, batch[0].Left)
	assert.Equal(t, []float64{3, 3}, batch[0].Pos)
}

func TestNoOpMoveEmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())
	f.agent("connA", "ag1", 2, 2, NewResult())

	res := NewResult()
	f.moveAgent("connA", 2, 2, res)
	assert.Empty(t, res.Batches)
	assert.Empty(t, res.BeaconEvents)
}

func TestLeaveThenReenterKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())
	f.agent("connA", "ag1", 2, 2, NewResult())

	// two moves folded into the same result, as a combined command would
	res := NewResult()
	f.moveAgent("connA", 50, 50, res)
	f.moveAgent("connA", 3, 3, res)

	batch := res.Batches["connV"]
	require.Len(t, batch, 2)
	assert.True(t, batch[0].Left)
	assert.True(t, batch[1].Entered)
}

func TestBeaconEnterLeave(t *testing.T) {
	f := newFixture(t)
	f.beacon("ab1", geo.NewBounds(0, 10, 0, 10), "owner", NewResult())
	f.agent("connA", "ag1", 50, 50, NewResult())

	res := NewResult()
	f.moveAgent("connA", 5, 5, res)
	require.Len(t, res.BeaconEvents, 1)
	assert.Equal(t, "ab1", res.BeaconEvents[0].BeaconID)
	assert.Equal(t, "ag1", res.BeaconEvents[0].PointID)
	assert.Equal(t, BeaconEnter, res.BeaconEvents[0].Kind)
	assert.False(t, res.BeaconEvents[0].Timestamp.IsZero())
	// beacons never produce connection batches
	assert.Empty(t, res.Batches)

	res = NewResult()
	f.moveAgent("connA", 50, 50, res)
	require.Len(t, res.BeaconEvents, 1)
	assert.Equal(t, BeaconLeave, res.BeaconEvents[0].Kind)
}

func TestIntraBeaconMoveIsSilent(t *testing.T) {
	f := newFixture(t)
	f.beacon("ab1", geo.NewBounds(0, 10, 0, 10), "owner", NewResult())
	f.agent("connA", "ag1", 2, 2, NewResult())

	res := NewResult()
	f.moveAgent("connA", 3, 3, res)
	assert.Empty(t, res.BeaconEvents)
}

func TestBeaconCreationIsSilentForExistingPoints(t *testing.T) {
	f := newFixture(t)
	f.agent("connA", "ag1", 5, 5, NewResult())

	res := NewResult()
	f.beacon("ab1", geo.NewBounds(0, 10, 0, 10), "owner", res)
	assert.Empty(t, res.BeaconEvents)
	assert.Empty(t, res.Batches)

	ab, ok := f.store.AirBeacon("ab1")
	require.True(t, ok)
	_, member := ab.Members[entity.AgentKey("ag1")]
	assert.True(t, member)
}

func TestPOIVisibility(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())

	res := NewResult()
	ch, err := f.store.CreatePOI("poi1", 5, 5, "ag9", []byte(`{"name":"cafe"}`))
	require.NoError(t, err)
	f.engine.React(ch, res)

	batch := res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.Equal(t, "poi1", batch[0].POIID)
	assert.Empty(t, batch[0].AgentID)
	assert.True(t, batch[0].Entered)
	assert.Equal(t, "ag9", batch[0].Creator)
	assert.JSONEq(t, `{"name":"cafe"}`, string(batch[0].PublicData))

	res = NewResult()
	ch, err = f.store.RemovePOI("poi1", "ag9")
	require.NoError(t, err)
	f.engine.React(ch, res)

	batch = res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.True(t, batch[0].Left)
	// the removal event keeps the POI wire shape even though the store
	// entry is already gone
	assert.Equal(t, "poi1", batch[0].POIID)
	assert.Equal(t, "ag9", batch[0].Creator)
}

func TestViewMoveDeltas(t *testing.T) {
	f := newFixture(t)
	f.agent("connA", "ag1", 5, 5, NewResult())
	f.agent("connB", "ag2", 25, 25, NewResult())
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())

	res := NewResult()
	f.moveView("connV", geo.NewBounds(20, 30, 20, 30), res)

	batch := res.Batches["connV"]
	require.Len(t, batch, 2)
	byID := map[string]bool{}
	for _, u := range batch {
		if u.Left {
			byID[u.AgentID] = false
		}
		if u.Entered {
			byID[u.AgentID] = true
		}
	}
	assert.Equal(t, map[string]bool{"ag1": false, "ag2": true}, byID)
}

func TestViewMoveOverlapStaysSilent(t *testing.T) {
	f := newFixture(t)
	f.agent("connA", "ag1", 9, 9, NewResult())
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())

	// ag1 sits in the overlap of old and new bounds: no event owed
	res := NewResult()
	f.moveView("connV", geo.NewBounds(5, 15, 5, 15), res)
	assert.Empty(t, res.Batches["connV"])
}

func TestAgentDisconnectEmitsLeft(t *testing.T) {
	f := newFixture(t)
	f.view("connV", "v1", geo.NewBounds(0, 10, 0, 10), NewResult())
	f.beacon("ab1", geo.NewBounds(0, 10, 0, 10), "owner", NewResult())
	f.agent("connA", "ag1", 5, 5, NewResult())

	res := NewResult()
	ch, had, err := f.store.RemoveAgent("connA")
	require.NoError(t, err)
	require.True(t, had)
	f.engine.React(ch, res)

	batch := res.Batches["connV"]
	require.Len(t, batch, 1)
	assert.True(t, batch[0].Left)
	assert.Equal(t, "ag1", batch[0].AgentID)

	require.Len(t, res.BeaconEvents, 1)
	assert.Equal(t, BeaconLeave, res.BeaconEvents[0].Kind)

	require.NoError(t, f.engine.CheckMembership())
}

func TestMembershipInvariantUnderRandomWorkload(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		f.agent(fmt.Sprintf("connA%d", i), fmt.Sprintf("ag%d", i),
			rng.Float64()*80-40, rng.Float64()*80-40, NewResult())
	}
	for i := 0; i < 5; i++ {
		lat, lon := rng.Float64()*60-30, rng.Float64()*60-30
		f.view(fmt.Sprintf("connV%d", i), fmt.Sprintf("v%d", i),
			geo.NewBounds(lat, lat+20, lon, lon+20), NewResult())
	}
	for i := 0; i < 5; i++ {
		lat, lon := rng.Float64()*60-30, rng.Float64()*60-30
		f.beacon(fmt.Sprintf("ab%d", i),
			geo.NewBounds(lat, lat+15, lon, lon+15), "owner", NewResult())
	}

	for step := 0; step < 500; step++ {
		switch rng.Intn(3) {
		case 0:
			conn := fmt.Sprintf("connA%d", rng.Intn(20))
			f.moveAgent(conn, rng.Float64()*80-40, rng.Float64()*80-40, NewResult())
		case 1:
			conn := fmt.Sprintf("connV%d", rng.Intn(5))
			lat, lon := rng.Float64()*60-30, rng.Float64()*60-30
			f.moveView(conn, geo.NewBounds(lat, lat+20, lon, lon+20), NewResult())
		case 2:
			id := fmt.Sprintf("poi%d", step)
			ch, err := f.store.CreatePOI(id, rng.Float64()*80-40, rng.Float64()*80-40, "owner", nil)
			require.NoError(t, err)
			f.engine.React(ch, NewResult())
		}
		require.NoError(t, f.engine.CheckMembership(), "after step %d", step)
	}
}
