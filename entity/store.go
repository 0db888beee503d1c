package entity

import (
	"encoding/json"
	"fmt"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/geo"
)

// Store is the canonical source of truth for agents, POIs, views and
// air beacons. It is not internally synchronized: all mutation runs on
// the single command processor, which is what makes the
// state→index→notify sequence atomic per command.
type Store struct {
	index *geo.Index

	agents      map[string]*Agent
	agentByConn map[string]string
	pois        map[string]*POI
	views       map[string]*View
	viewByConn  map[string]string
	beacons     map[string]*AirBeacon
}

// NewStore creates an empty store over the given index.
func NewStore(index *geo.Index) *Store {
	return &Store{
		index:       index,
		agents:      make(map[string]*Agent),
		agentByConn: make(map[string]string),
		pois:        make(map[string]*POI),
		views:       make(map[string]*View),
		viewByConn:  make(map[string]string),
		beacons:     make(map[string]*AirBeacon),
	}
}

// Index exposes the spatial index for read-side queries (invariant
// checks, snapshots). Mutation stays inside the store.
func (s *Store) Index() *geo.Index { return s.index }

// CreateAgent registers an agent for a connection. The agent enters the
// spatial index on its first position update.
func (s *Store) CreateAgent(connID, id string) (*Agent, error) {
	if id == "" {
		return nil, constants.ErrIllegalEntityID
	}
	if _, ok := s.agentByConn[connID]; ok {
		return nil, constants.ErrSessionAlreadyBound
	}
	if _, ok := s.agents[id]; ok {
		return nil, fmt.Errorf("agent %q: %w", id, constants.ErrAlreadyExists)
	}
	a := &Agent{ID: id, ConnID: connID}
	s.agents[id] = a
	s.agentByConn[connID] = id
	return a, nil
}

// MoveAgent updates the position of the connection's agent. The first
// move places the agent in the index.
func (s *Store) MoveAgent(connID string, lat, lon float64) (Change, error) {
	id, ok := s.agentByConn[connID]
	if !ok {
		return Change{}, fmt.Errorf("no agent bound to connection: %w", constants.ErrNotFound)
	}
	a := s.agents[id]
	key := AgentKey(id)

	if !a.Placed {
		if err := s.index.InsertPoint(key, lat, lon); err != nil {
			return Change{}, err
		}
		a.Lat, a.Lon, a.Placed = lat, lon, true
		return Change{Op: OpPointPlace, Key: key, NewLat: lat, NewLon: lon}, nil
	}
	if a.Lat == lat && a.Lon == lon {
		if err := geo.CheckCoords(lat, lon); err != nil {
			return Change{}, err
		}
		return Change{Op: OpPointMove, Key: key, OldLat: lat, OldLon: lon, NewLat: lat, NewLon: lon, NoOp: true}, nil
	}
	oldLat, oldLon := a.Lat, a.Lon
	if err := s.index.MovePoint(key, lat, lon); err != nil {
		return Change{}, err
	}
	a.Lat, a.Lon = lat, lon
	return Change{Op: OpPointMove, Key: key, OldLat: oldLat, OldLon: oldLon, NewLat: lat, NewLon: lon}, nil
}

// RemoveAgent destroys the connection's agent, if any. Called on every
// disconnect path. The returned bool reports whether a placed agent was
// removed (and events are owed).
func (s *Store) RemoveAgent(connID string) (Change, bool, error) {
	id, ok := s.agentByConn[connID]
	if !ok {
		return Change{}, false, nil
	}
	a := s.agents[id]
	delete(s.agentByConn, connID)
	delete(s.agents, id)
	if !a.Placed {
		return Change{}, false, nil
	}
	key := AgentKey(id)
	if err := s.index.RemovePoint(key); err != nil {
		return Change{}, false, err
	}
	return Change{Op: OpPointRemove, Key: key, OldLat: a.Lat, OldLon: a.Lon}, true, nil
}

// CreateView registers a view for a connection. The view enters the
// spatial index on its first bounds update.
func (s *Store) CreateView(connID, id string) (*View, error) {
	if id == "" {
		return nil, constants.ErrIllegalEntityID
	}
	if _, ok := s.viewByConn[connID]; ok {
		return nil, constants.ErrSessionAlreadyBound
	}
	if _, ok := s.views[id]; ok {
		return nil, fmt.Errorf("view %q: %w", id, constants.ErrAlreadyExists)
	}
	v := &View{ID: id, ConnID: connID, Members: make(map[string]struct{})}
	s.views[id] = v
	s.viewByConn[connID] = id
	return v, nil
}

// MoveView updates the bounds of the connection's view. The first move
// places the view in the index.
func (s *Store) MoveView(connID string, b geo.Bounds) (Change, error) {
	id, ok := s.viewByConn[connID]
	if !ok {
		return Change{}, fmt.Errorf("no view bound to connection: %w", constants.ErrNotFound)
	}
	v := s.views[id]
	key := ViewKey(id)

	if !v.Placed {
		if err := s.index.InsertRect(key, b); err != nil {
			return Change{}, err
		}
		v.Bounds, v.Placed = b, true
		return Change{Op: OpRectPlace, Key: key, NewBounds: b}, nil
	}
	if v.Bounds == b {
		if err := geo.CheckBounds(b); err != nil {
			return Change{}, err
		}
		return Change{Op: OpRectMove, Key: key, OldBounds: b, NewBounds: b, NoOp: true}, nil
	}
	old := v.Bounds
	if err := s.index.MoveRect(key, b); err != nil {
		return Change{}, err
	}
	v.Bounds = b
	return Change{Op: OpRectMove, Key: key, OldBounds: old, NewBounds: b}, nil
}

// RemoveView destroys the connection's view, if any. Called on every
// disconnect path.
func (s *Store) RemoveView(connID string) (Change, bool, error) {
	id, ok := s.viewByConn[connID]
	if !ok {
		return Change{}, false, nil
	}
	v := s.views[id]
	delete(s.viewByConn, connID)
	delete(s.views, id)
	if !v.Placed {
		return Change{}, false, nil
	}
	key := ViewKey(id)
	if err := s.index.RemoveRect(key); err != nil {
		return Change{}, false, err
	}
	return Change{Op: OpRectRemove, Key: key, OldBounds: v.Bounds}, true, nil
}

// CreatePOI creates a persistent point of interest.
func (s *Store) CreatePOI(id string, lat, lon float64, creator string, publicData json.RawMessage) (Change, error) {
	if id == "" {
		return Change{}, constants.ErrIllegalEntityID
	}
	if _, ok := s.pois[id]; ok {
		return Change{}, fmt.Errorf("poi %q: %w", id, constants.ErrAlreadyExists)
	}
	key := POIKey(id)
	if err := s.index.InsertPoint(key, lat, lon); err != nil {
		return Change{}, err
	}
	s.pois[id] = &POI{ID: id, Lat: lat, Lon: lon, Creator: creator, PublicData: publicData}
	return Change{Op: OpPointPlace, Key: key, NewLat: lat, NewLon: lon}, nil
}

// RemovePOI removes a point of interest. Only the creator may remove
// it; an empty requester is administrative and bypasses the check.
func (s *Store) RemovePOI(id, requester string) (Change, error) {
	p, ok := s.pois[id]
	if !ok {
		return Change{}, fmt.Errorf("poi %q: %w", id, constants.ErrNotFound)
	}
	if requester != "" && requester != p.Creator {
		return Change{}, fmt.Errorf("poi %q belongs to %q: %w", id, p.Creator, constants.ErrPermissionDenied)
	}
	key := POIKey(id)
	if err := s.index.RemovePoint(key); err != nil {
		return Change{}, err
	}
	delete(s.pois, id)
	return Change{Op: OpPointRemove, Key: key, OldLat: p.Lat, OldLon: p.Lon, Creator: p.Creator}, nil
}

// CreateAirBeacon creates a persistent rectangular webhook query.
func (s *Store) CreateAirBeacon(id string, b geo.Bounds, creator string, publicData json.RawMessage) (Change, error) {
	if id == "" {
		return Change{}, constants.ErrIllegalEntityID
	}
	if _, ok := s.beacons[id]; ok {
		return Change{}, fmt.Errorf("air beacon %q: %w", id, constants.ErrAlreadyExists)
	}
	key := BeaconKey(id)
	if err := s.index.InsertRect(key, b); err != nil {
		return Change{}, err
	}
	s.beacons[id] = &AirBeacon{ID: id, Bounds: b, Creator: creator, PublicData: publicData, Members: make(map[string]struct{})}
	return Change{Op: OpRectPlace, Key: key, NewBounds: b}, nil
}

// RemoveAirBeacon removes an air beacon. Only the creator may remove
// it; an empty requester is administrative and bypasses the check.
func (s *Store) RemoveAirBeacon(id, requester string) (Change, error) {
	ab, ok := s.beacons[id]
	if !ok {
		return Change{}, fmt.Errorf("air beacon %q: %w", id, constants.ErrNotFound)
	}
	if requester != "" && requester != ab.Creator {
		return Change{}, fmt.Errorf("air beacon %q belongs to %q: %w", id, ab.Creator, constants.ErrPermissionDenied)
	}
	key := BeaconKey(id)
	if err := s.index.RemoveRect(key); err != nil {
		return Change{}, err
	}
	delete(s.beacons, id)
	return Change{Op: OpRectRemove, Key: key, OldBounds: ab.Bounds}, nil
}

// Agent returns an agent by id.
func (s *Store) Agent(id string) (*Agent, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// AgentByConn returns the agent bound to a connection.
func (s *Store) AgentByConn(connID string) (*Agent, bool) {
	id, ok := s.agentByConn[connID]
	if !ok {
		return nil, false
	}
	return s.agents[id], true
}

// POI returns a point of interest by id.
func (s *Store) POI(id string) (*POI, bool) {
	p, ok := s.pois[id]
	return p, ok
}

// POIs returns all points of interest (persistence snapshots).
func (s *Store) POIs() []*POI {
	out := make([]*POI, 0, len(s.pois))
	for _, p := range s.pois {
		out = append(out, p)
	}
	return out
}

// View returns a view by id.
func (s *Store) View(id string) (*View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// ViewByConn returns the view bound to a connection.
func (s *Store) ViewByConn(connID string) (*View, bool) {
	id, ok := s.viewByConn[connID]
	if !ok {
		return nil, false
	}
	return s.views[id], true
}

// Views returns all views (invariant checks).
func (s *Store) Views() []*View {
	out := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	return out
}

// AirBeacon returns an air beacon by id.
func (s *Store) AirBeacon(id string) (*AirBeacon, bool) {
	ab, ok := s.beacons[id]
	return ab, ok
}

// AirBeacons returns all air beacons (persistence snapshots).
func (s *Store) AirBeacons() []*AirBeacon {
	out := make([]*AirBeacon, 0, len(s.beacons))
	for _, ab := range s.beacons {
		out = append(out, ab)
	}
	return out
}

// PointInfo resolves a point index key for update rendering.
func (s *Store) PointInfo(key string) (PointInfo, bool) {
	kind, id := ParseKey(key)
	switch kind {
	case KindAgent:
		a, ok := s.agents[id]
		if !ok {
			return PointInfo{}, false
		}
		return PointInfo{Key: key, ID: id, Kind: kind, Lat: a.Lat, Lon: a.Lon, PublicData: a.PublicData}, true
	case KindPOI:
		p, ok := s.pois[id]
		if !ok {
			return PointInfo{}, false
		}
		return PointInfo{Key: key, ID: id, Kind: kind, Lat: p.Lat, Lon: p.Lon, Creator: p.Creator, PublicData: p.PublicData}, true
	}
	return PointInfo{}, false
}

// RectInfo resolves a rectangle index key for event routing.
func (s *Store) RectInfo(key string) (RectInfo, bool) {
	kind, id := ParseKey(key)
	switch kind {
	case KindView:
		v, ok := s.views[id]
		if !ok {
			return RectInfo{}, false
		}
		return RectInfo{Key: key, ID: id, Kind: kind, ConnID: v.ConnID, Bounds: v.Bounds, Members: v.Members}, true
	case KindAirBeacon:
		ab, ok := s.beacons[id]
		if !ok {
			return RectInfo{}, false
		}
		return RectInfo{Key: key, ID: id, Kind: kind, Bounds: ab.Bounds, Members: ab.Members}, true
	}
	return RectInfo{}, false
}

// Counts returns entity population sizes for metrics.
func (s *Store) Counts() (agents, pois, views, beacons int) {
	return len(s.agents), len(s.pois), len(s.views), len(s.beacons)
}
