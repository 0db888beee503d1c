package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeeoIO/geeo-server/constants"
)

func TestDecodeAgentPosition(t *testing.T) {
	cmd, err := Decode([]byte(`{"agentPosition":[2.35,48.85]}`))
	require.NoError(t, err)
	require.Len(t, cmd.AgentPosition, 2)
	lat, lon := LatLon(cmd.AgentPosition)
	assert.Equal(t, 48.85, lat)
	assert.Equal(t, 2.35, lon)
}

func TestDecodeCombinedMove(t *testing.T) {
	cmd, err := Decode([]byte(`{"agentPosition":[1,2],"viewPosition":[0,0,10,10]}`))
	require.NoError(t, err)
	assert.NotNil(t, cmd.AgentPosition)
	assert.NotNil(t, cmd.ViewPosition)

	lat1, lat2, lon1, lon2 := QuadCorners(cmd.ViewPosition)
	assert.Equal(t, 0.0, lat1)
	assert.Equal(t, 10.0, lat2)
	assert.Equal(t, 0.0, lon1)
	assert.Equal(t, 10.0, lon2)
}

func TestDecodeCreatePOI(t *testing.T) {
	cmd, err := Decode([]byte(`{"createPOI":{"poi_id":"cafe","pos":[2.3,48.8],"publicData":{"name":"Le Procope"}}}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.CreatePOI)
	assert.Equal(t, "cafe", cmd.CreatePOI.ID)
	assert.JSONEq(t, `{"name":"Le Procope"}`, string(cmd.CreatePOI.PublicData))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"agentPosition":[`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))
}

func TestDecodeRejectsEmptyCommand(t *testing.T) {
	_, err := Decode([]byte(`{}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))

	_, err = Decode([]byte(`{"unknown":"field"}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))
}

func TestDecodeValidatesArity(t *testing.T) {
	_, err := Decode([]byte(`{"agentPosition":[1,2,3]}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))

	_, err = Decode([]byte(`{"viewPosition":[1,2]}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))

	_, err = Decode([]byte(`{"createPOI":{"poi_id":"x","pos":[1,2,3,4]}}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))

	_, err = Decode([]byte(`{"createAirBeacon":{"ab_id":"x","pos":[1,2]}}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))
}

func TestDecodeValidatesRequiredIDs(t *testing.T) {
	_, err := Decode([]byte(`{"removePOI":{}}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))

	_, err = Decode([]byte(`{"removeAirBeacon":{"ab_id":""}}`))
	assert.True(t, errors.Is(err, constants.ErrInvalidArgument))
}

func TestUpdateWireShape(t *testing.T) {
	u := Update{AgentID: "ag1", Pos: LonLat(48.85, 2.35)}
	data, err := json.Marshal([]Update{u})
	require.NoError(t, err)
	// plain moves omit entered/left entirely
	assert.JSONEq(t, `[{"agent_id":"ag1","pos":[2.35,48.85]}]`, string(data))

	u = Update{POIID: "cafe", Pos: LonLat(1, 2), Entered: true, Creator: "ag1", PublicData: json.RawMessage(`{"k":1}`)}
	data, err = json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"poi_id":"cafe","pos":[2,1],"entered":true,"creator":"ag1","publicData":{"k":1}}`, string(data))
}

func TestUpdateTransition(t *testing.T) {
	assert.False(t, (&Update{AgentID: "a"}).Transition())
	assert.True(t, (&Update{AgentID: "a", Entered: true}).Transition())
	assert.True(t, (&Update{AgentID: "a", Left: true}).Transition())
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "a", (&Update{AgentID: "a"}).EntityID())
	assert.Equal(t, "p", (&Update{POIID: "p"}).EntityID())
}

func TestErrorFor(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{constants.ErrInvalidArgument, CodeInvalidArgument},
		{constants.ErrNotFound, CodeNotFound},
		{constants.ErrAlreadyExists, CodeAlreadyExists},
		{constants.ErrPermissionDenied, CodePermissionDenied},
		{constants.ErrSessionAlreadyBound, CodePermissionDenied},
		{constants.ErrInternal, CodeInternal},
		{errors.New("boom"), CodeInternal},
	}
	for _, c := range cases {
		msg := ErrorFor(c.err)
		assert.Equal(t, c.code, msg.Error, c.err.Error())
		assert.NotEmpty(t, msg.Message)
	}
}
