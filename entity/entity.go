// Package entity owns the canonical state of the four entity kinds and
// is the only component that mutates the spatial index. Agents and
// views are transient, bound to a connection; points of interest and
// air beacons are persistent, bound to a creator.
package entity

import (
	"encoding/json"
	"strings"

	"github.com/GeeoIO/geeo-server/geo"
)

// Kind discriminates the four entity kinds.
type Kind int8

const (
	// KindAgent is a transient moving point bound to one connection.
	KindAgent Kind = iota + 1
	// KindPOI is a persistent static point.
	KindPOI
	// KindView is a transient moving rectangle bound to one connection.
	KindView
	// KindAirBeacon is a persistent static rectangle with webhook
	// notification.
	KindAirBeacon
)

// Index keys carry a kind prefix so the four id namespaces stay
// disjoint inside the shared spatial index.
const (
	agentPrefix  = "a:"
	poiPrefix    = "p:"
	viewPrefix   = "v:"
	beaconPrefix = "b:"
)

// AgentKey returns the spatial-index key of an agent id.
func AgentKey(id string) string { return agentPrefix + id }

// POIKey returns the spatial-index key of a POI id.
func POIKey(id string) string { return poiPrefix + id }

// ViewKey returns the spatial-index key of a view id.
func ViewKey(id string) string { return viewPrefix + id }

// BeaconKey returns the spatial-index key of an air-beacon id.
func BeaconKey(id string) string { return beaconPrefix + id }

// ParseKey splits an index key back into kind and id.
func ParseKey(key string) (Kind, string) {
	switch {
	case strings.HasPrefix(key, agentPrefix):
		return KindAgent, key[len(agentPrefix):]
	case strings.HasPrefix(key, poiPrefix):
		return KindPOI, key[len(poiPrefix):]
	case strings.HasPrefix(key, viewPrefix):
		return KindView, key[len(viewPrefix):]
	case strings.HasPrefix(key, beaconPrefix):
		return KindAirBeacon, key[len(beaconPrefix):]
	}
	return 0, key
}

// Agent is a moving point entity owned by exactly one connection. It is
// unplaced (absent from the index) until its first position update.
type Agent struct {
	ID         string
	ConnID     string
	Lat        float64
	Lon        float64
	Placed     bool
	PublicData json.RawMessage
}

// POI is a persistent static point entity.
type POI struct {
	ID         string          `json:"poi_id"`
	Lat        float64         `json:"lat"`
	Lon        float64         `json:"lon"`
	Creator    string          `json:"creator"`
	PublicData json.RawMessage `json:"publicData,omitempty"`
}

// View is a moving rectangular live query owned by exactly one
// connection. Members is the set of point-entity index keys currently
// inside its bounds, maintained by the notification engine.
type View struct {
	ID      string
	ConnID  string
	Bounds  geo.Bounds
	Placed  bool
	Members map[string]struct{}
}

// AirBeacon is a persistent static rectangular query. Its bounds are
// immutable after creation; the observed protocol has no move command
// for beacons.
type AirBeacon struct {
	ID         string              `json:"ab_id"`
	Bounds     geo.Bounds          `json:"bounds"`
	Creator    string              `json:"creator"`
	PublicData json.RawMessage     `json:"publicData,omitempty"`
	Members    map[string]struct{} `json:"-"`
}

// PointInfo is the read-side projection of a point entity used to
// render outbound updates.
type PointInfo struct {
	Key        string
	ID         string
	Kind       Kind
	Lat        float64
	Lon        float64
	Creator    string
	PublicData json.RawMessage
}

// RectInfo is the read-side projection of a rectangle entity used to
// route events. Members aliases the live membership set.
type RectInfo struct {
	Key     string
	ID      string
	Kind    Kind
	ConnID  string
	Bounds  geo.Bounds
	Members map[string]struct{}
}

// Op enumerates spatial mutations handed to the notification engine.
type Op int8

const (
	// OpPointPlace is a point's first appearance in the index.
	OpPointPlace Op = iota + 1
	// OpPointMove is a position change of an indexed point.
	OpPointMove
	// OpPointRemove is a point leaving the index.
	OpPointRemove
	// OpRectPlace is a rectangle's first appearance in the index.
	OpRectPlace
	// OpRectMove is a bounds change of an indexed rectangle.
	OpRectMove
	// OpRectRemove is a rectangle leaving the index.
	OpRectRemove
)

// Change is the before/after record of one spatial mutation. The store
// emits it after the index has been updated; the notification engine
// consumes it within the same command, so the pair is atomic under the
// single-processor discipline.
type Change struct {
	Op        Op
	Key       string
	OldLat    float64
	OldLon    float64
	NewLat    float64
	NewLon    float64
	OldBounds geo.Bounds
	NewBounds geo.Bounds
	// Creator snapshots the owner of a removed POI: the store entry is
	// gone by the time the removal event is rendered.
	Creator string
	// NoOp marks a move to the exact current position. It produces no
	// events at all.
	NoOp bool
}
