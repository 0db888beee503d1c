package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/geo"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.SavePOI(&entity.POI{ID: "cafe", Lat: 1, Lon: 2, Creator: "ag1", PublicData: []byte(`{"k":1}`)}))
	require.NoError(t, m.SaveAirBeacon(&entity.AirBeacon{ID: "ab1", Bounds: geo.NewBounds(0, 10, 0, 10), Creator: "ag1"}))

	pois, err := m.LoadPOIs()
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, "cafe", pois[0].ID)
	assert.Equal(t, 1.0, pois[0].Lat)
	assert.JSONEq(t, `{"k":1}`, string(pois[0].PublicData))

	beacons, err := m.LoadAirBeacons()
	require.NoError(t, err)
	require.Len(t, beacons, 1)
	assert.Equal(t, geo.NewBounds(0, 10, 0, 10), beacons[0].Bounds)
}

func TestMemorySaveCopies(t *testing.T) {
	m := NewMemory()
	p := &entity.POI{ID: "cafe", Lat: 1, Lon: 2}
	require.NoError(t, m.SavePOI(p))

	// later mutation of the live entity must not leak into storage
	p.Lat = 99
	pois, err := m.LoadPOIs()
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, 1.0, pois[0].Lat)
}

func TestMemoryOverwriteAndDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SavePOI(&entity.POI{ID: "cafe", Lat: 1}))
	require.NoError(t, m.SavePOI(&entity.POI{ID: "cafe", Lat: 2}))

	pois, err := m.LoadPOIs()
	require.NoError(t, err)
	require.Len(t, pois, 1)
	assert.Equal(t, 2.0, pois[0].Lat)

	require.NoError(t, m.DeletePOI("cafe"))
	require.NoError(t, m.DeletePOI("cafe"))
	pois, err = m.LoadPOIs()
	require.NoError(t, err)
	assert.Empty(t, pois)

	require.NoError(t, m.SaveAirBeacon(&entity.AirBeacon{ID: "ab1"}))
	require.NoError(t, m.DeleteAirBeacon("ab1"))
	beacons, err := m.LoadAirBeacons()
	require.NoError(t, err)
	assert.Empty(t, beacons)

	assert.NoError(t, m.Close())
}
