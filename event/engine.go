// Package event is the subscription/notification engine. It turns each
// spatial mutation into the exact set of enter/leave/move events owed
// to views (pushed over their owning connection) and air beacons
// (handed to the webhook dispatcher), and keeps every rectangle's
// membership set synchronized with the spatial index.
package event

import (
	"fmt"
	"sort"
	"time"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/protocol"
)

// BeaconEventKind is the webhook event kind.
type BeaconEventKind string

const (
	// BeaconEnter reports a point entering a beacon's bounds.
	BeaconEnter BeaconEventKind = "enter"
	// BeaconLeave reports a point leaving a beacon's bounds.
	BeaconLeave BeaconEventKind = "leave"
)

// BeaconEvent is one air-beacon notification. It deliberately carries
// no coordinates.
type BeaconEvent struct {
	BeaconID  string          `json:"ab_id"`
	PointID   string          `json:"point_id"`
	Kind      BeaconEventKind `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
}

// Result accumulates everything one command produced: per-connection
// update batches (flushed as one JSON array each) and beacon events for
// the webhook dispatcher. Updates are appended in emission order and
// never deduplicated, so a leave/re-enter within one command stays
// [left, entered].
type Result struct {
	Batches      map[string][]protocol.Update
	BeaconEvents []BeaconEvent
}

// NewResult creates an empty result.
func NewResult() *Result {
	return &Result{Batches: make(map[string][]protocol.Update)}
}

func (r *Result) push(connID string, u protocol.Update) {
	if connID == "" {
		return
	}
	r.Batches[connID] = append(r.Batches[connID], u)
}

func (r *Result) beacon(beaconID, pointKey string, kind BeaconEventKind, now time.Time) {
	_, pointID := entity.ParseKey(pointKey)
	r.BeaconEvents = append(r.BeaconEvents, BeaconEvent{
		BeaconID:  beaconID,
		PointID:   pointID,
		Kind:      kind,
		Timestamp: now,
	})
}

// Engine computes event deltas against the store and its index.
type Engine struct {
	store *entity.Store
	now   func() time.Time
}

// NewEngine creates an engine over the store.
func NewEngine(store *entity.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// React folds one spatial mutation into the result. It must be called
// immediately after the store applied the change, on the same
// goroutine.
func (e *Engine) React(ch entity.Change, res *Result) {
	if ch.NoOp {
		return
	}
	switch ch.Op {
	case entity.OpPointPlace:
		e.pointPlace(ch, res)
	case entity.OpPointMove:
		e.pointMove(ch, res)
	case entity.OpPointRemove:
		e.pointRemove(ch, res)
	case entity.OpRectPlace:
		e.rectPlace(ch, res)
	case entity.OpRectMove:
		e.rectMove(ch, res)
	case entity.OpRectRemove:
		e.rectRemove(ch, res)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) pointUpdate(key string, lat, lon float64, entered, left bool) (protocol.Update, bool) {
	info, ok := e.store.PointInfo(key)
	if !ok {
		// removal events render after the entity is gone from the store
		kind, id := entity.ParseKey(key)
		info = entity.PointInfo{ID: id, Kind: kind}
		ok = kind == entity.KindAgent || kind == entity.KindPOI
	}
	u := protocol.Update{Pos: protocol.LonLat(lat, lon), Entered: entered, Left: left}
	switch info.Kind {
	case entity.KindAgent:
		u.AgentID = info.ID
	case entity.KindPOI:
		u.POIID = info.ID
		u.Creator = info.Creator
	default:
		return protocol.Update{}, false
	}
	if entered {
		u.PublicData = info.PublicData
	}
	return u, ok
}

func (e *Engine) pointPlace(ch entity.Change, res *Result) {
	now := e.now()
	rects := e.store.Index().RectsContaining(ch.NewLat, ch.NewLon)
	for _, rectKey := range sortedKeys(rects) {
		rect, ok := e.store.RectInfo(rectKey)
		if !ok {
			e.desync("rect %s in index but not in store", rectKey)
			continue
		}
		rect.Members[ch.Key] = struct{}{}
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(ch.Key, ch.NewLat, ch.NewLon, true, false); ok {
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, ch.Key, BeaconEnter, now)
		}
	}
}

func (e *Engine) pointMove(ch entity.Change, res *Result) {
	now := e.now()
	index := e.store.Index()
	// the rectangle population is untouched by a point move, so both
	// sets are valid even though the index already holds the new
	// position
	oldRects := index.RectsContaining(ch.OldLat, ch.OldLon)
	newRects := index.RectsContaining(ch.NewLat, ch.NewLon)

	for _, rectKey := range sortedKeys(oldRects) {
		if _, stays := newRects[rectKey]; stays {
			continue
		}
		rect, ok := e.store.RectInfo(rectKey)
		if !ok {
			e.desync("rect %s in index but not in store", rectKey)
			continue
		}
		delete(rect.Members, ch.Key)
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(ch.Key, ch.NewLat, ch.NewLon, false, true); ok {
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, ch.Key, BeaconLeave, now)
		}
	}

	for _, rectKey := range sortedKeys(newRects) {
		rect, ok := e.store.RectInfo(rectKey)
		if !ok {
			e.desync("rect %s in index but not in store", rectKey)
			continue
		}
		if _, stayed := oldRects[rectKey]; stayed {
			// intra-rect movement: views get a plain position update,
			// beacons get nothing
			if rect.Kind == entity.KindView {
				if u, ok := e.pointUpdate(ch.Key, ch.NewLat, ch.NewLon, false, false); ok {
					res.push(rect.ConnID, u)
				}
			}
			continue
		}
		rect.Members[ch.Key] = struct{}{}
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(ch.Key, ch.NewLat, ch.NewLon, true, false); ok {
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, ch.Key, BeaconEnter, now)
		}
	}
}

func (e *Engine) pointRemove(ch entity.Change, res *Result) {
	now := e.now()
	rects := e.store.Index().RectsContaining(ch.OldLat, ch.OldLon)
	for _, rectKey := range sortedKeys(rects) {
		rect, ok := e.store.RectInfo(rectKey)
		if !ok {
			e.desync("rect %s in index but not in store", rectKey)
			continue
		}
		delete(rect.Members, ch.Key)
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(ch.Key, ch.OldLat, ch.OldLon, false, true); ok {
				if u.POIID != "" {
					u.Creator = ch.Creator
				}
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, ch.Key, BeaconLeave, now)
		}
	}
}

func (e *Engine) rectPlace(ch entity.Change, res *Result) {
	rect, ok := e.store.RectInfo(ch.Key)
	if !ok {
		e.desync("rect %s placed but not in store", ch.Key)
		return
	}
	points := e.store.Index().PointsIn(ch.NewBounds)
	for _, pointKey := range sortedKeys(points) {
		rect.Members[pointKey] = struct{}{}
		// a freshly created beacon does not notify for points already
		// inside it: only transitions notify
		if rect.Kind != entity.KindView {
			continue
		}
		info, ok := e.store.PointInfo(pointKey)
		if !ok {
			e.desync("point %s in index but not in store", pointKey)
			continue
		}
		if u, ok := e.pointUpdate(pointKey, info.Lat, info.Lon, true, false); ok {
			res.push(rect.ConnID, u)
		}
	}
}

func (e *Engine) rectMove(ch entity.Change, res *Result) {
	now := e.now()
	rect, ok := e.store.RectInfo(ch.Key)
	if !ok {
		e.desync("rect %s moved but not in store", ch.Key)
		return
	}
	index := e.store.Index()
	// the point population is untouched by a rect move, so querying the
	// old bounds after the index update still yields the old membership
	oldPoints := index.PointsIn(ch.OldBounds)
	newPoints := index.PointsIn(ch.NewBounds)

	for _, pointKey := range sortedKeys(oldPoints) {
		if _, stays := newPoints[pointKey]; stays {
			continue
		}
		delete(rect.Members, pointKey)
		info, ok := e.store.PointInfo(pointKey)
		if !ok {
			e.desync("point %s in index but not in store", pointKey)
			continue
		}
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(pointKey, info.Lat, info.Lon, false, true); ok {
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, pointKey, BeaconLeave, now)
		}
	}

	for _, pointKey := range sortedKeys(newPoints) {
		if _, stayed := oldPoints[pointKey]; stayed {
			// the point did not move; silent membership continuation
			continue
		}
		rect.Members[pointKey] = struct{}{}
		info, ok := e.store.PointInfo(pointKey)
		if !ok {
			e.desync("point %s in index but not in store", pointKey)
			continue
		}
		switch rect.Kind {
		case entity.KindView:
			if u, ok := e.pointUpdate(pointKey, info.Lat, info.Lon, true, false); ok {
				res.push(rect.ConnID, u)
			}
		case entity.KindAirBeacon:
			res.beacon(rect.ID, pointKey, BeaconEnter, now)
		}
	}
}

func (e *Engine) rectRemove(ch entity.Change, res *Result) {
	// membership dies with the rectangle; the owning connection is
	// closing (views) or the beacon was deleted, nobody is notified
}

// CheckMembership independently recomputes every rectangle's membership
// from the spatial index and compares it against the stored set. A
// mismatch is a core bug.
func (e *Engine) CheckMembership() error {
	check := func(rect entity.RectInfo) error {
		want := e.store.Index().PointsIn(rect.Bounds)
		if len(want) != len(rect.Members) {
			return fmt.Errorf("rect %s membership desync (have %d, want %d): %w",
				rect.Key, len(rect.Members), len(want), constants.ErrInternal)
		}
		for k := range want {
			if _, ok := rect.Members[k]; !ok {
				return fmt.Errorf("rect %s missing member %s: %w", rect.Key, k, constants.ErrInternal)
			}
		}
		return nil
	}
	for _, v := range e.store.Views() {
		if !v.Placed {
			continue
		}
		if err := check(entity.RectInfo{Key: entity.ViewKey(v.ID), Bounds: v.Bounds, Members: v.Members}); err != nil {
			return err
		}
	}
	for _, b := range e.store.AirBeacons() {
		if err := check(entity.RectInfo{Key: entity.BeaconKey(b.ID), Bounds: b.Bounds, Members: b.Members}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) desync(format string, args ...interface{}) {
	logger.Errorf("notification engine desync: "+format, args...)
}
