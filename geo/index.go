// Package geo implements the dual spatial index behind the entity
// store: one R-tree for point entities (agents, points of interest) and
// one for rectangle entities (views, air beacons), answering both
// "points inside rectangle" and "rectangles containing point" in
// sublinear time. R-tree hits are minimum-bounding-rectangle
// intersections, so every query re-checks exact containment before
// returning an id.
package geo

import (
	"fmt"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/GeeoIO/geeo-server/constants"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50

	// minExtent inflates degenerate rectangles; rtreego rejects
	// zero-length sides.
	minExtent = 1e-9
)

type pointItem struct {
	id   string
	lat  float64
	lon  float64
	rect *rtreego.Rect
}

func (p *pointItem) Bounds() *rtreego.Rect { return p.rect }

type rectItem struct {
	id     string
	bounds Bounds
	rect   *rtreego.Rect
}

func (r *rectItem) Bounds() *rtreego.Rect { return r.rect }

// Index is the dual R-tree index. It is safe for concurrent use, though
// under the single-processor discipline mutations arrive serialized and
// the lock mostly guards read-side snapshots (metrics, invariant
// checks).
type Index struct {
	mu        sync.RWMutex
	points    *rtreego.Rtree
	rects     *rtreego.Rtree
	pointByID map[string]*pointItem
	rectByID  map[string]*rectItem
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		points:    rtreego.NewTree(dimensions, minChildren, maxChildren),
		rects:     rtreego.NewTree(dimensions, minChildren, maxChildren),
		pointByID: make(map[string]*pointItem),
		rectByID:  make(map[string]*rectItem),
	}
}

func pointRect(lat, lon float64) *rtreego.Rect {
	return rtreego.Point{lat, lon}.ToRect(minExtent)
}

func boundsRect(b Bounds) (*rtreego.Rect, error) {
	lengths := []float64{b.MaxLat - b.MinLat, b.MaxLon - b.MinLon}
	for i := range lengths {
		if lengths[i] < minExtent {
			lengths[i] = minExtent
		}
	}
	return rtreego.NewRect(rtreego.Point{b.MinLat, b.MinLon}, lengths)
}

// InsertPoint adds a point entity to the index.
func (ix *Index) InsertPoint(id string, lat, lon float64) error {
	if err := CheckCoords(lat, lon); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.pointByID[id]; ok {
		return fmt.Errorf("point %q: %w", id, constants.ErrAlreadyExists)
	}
	item := &pointItem{id: id, lat: lat, lon: lon, rect: pointRect(lat, lon)}
	ix.points.Insert(item)
	ix.pointByID[id] = item
	return nil
}

// MovePoint relocates a point entity. On a validation error the prior
// position is left untouched.
func (ix *Index) MovePoint(id string, lat, lon float64) error {
	if err := CheckCoords(lat, lon); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.pointByID[id]
	if !ok {
		return fmt.Errorf("point %q: %w", id, constants.ErrNotFound)
	}
	if !ix.points.Delete(old) {
		return fmt.Errorf("point %q desynced from tree: %w", id, constants.ErrInternal)
	}
	item := &pointItem{id: id, lat: lat, lon: lon, rect: pointRect(lat, lon)}
	ix.points.Insert(item)
	ix.pointByID[id] = item
	return nil
}

// RemovePoint deletes a point entity from the index.
func (ix *Index) RemovePoint(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.pointByID[id]
	if !ok {
		return fmt.Errorf("point %q: %w", id, constants.ErrNotFound)
	}
	if !ix.points.Delete(old) {
		return fmt.Errorf("point %q desynced from tree: %w", id, constants.ErrInternal)
	}
	delete(ix.pointByID, id)
	return nil
}

// PointAt returns the current coordinates of a point entity.
func (ix *Index) PointAt(id string) (lat, lon float64, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	item, ok := ix.pointByID[id]
	if !ok {
		return 0, 0, false
	}
	return item.lat, item.lon, true
}

// InsertRect adds a rectangle entity to the index.
func (ix *Index) InsertRect(id string, b Bounds) error {
	if err := CheckBounds(b); err != nil {
		return err
	}
	rect, err := boundsRect(b)
	if err != nil {
		return fmt.Errorf("bounds %+v: %w", b, constants.ErrInvalidArgument)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.rectByID[id]; ok {
		return fmt.Errorf("rect %q: %w", id, constants.ErrAlreadyExists)
	}
	item := &rectItem{id: id, bounds: b, rect: rect}
	ix.rects.Insert(item)
	ix.rectByID[id] = item
	return nil
}

// MoveRect changes a rectangle entity's bounds. On a validation error
// the prior bounds are left untouched.
func (ix *Index) MoveRect(id string, b Bounds) error {
	if err := CheckBounds(b); err != nil {
		return err
	}
	rect, err := boundsRect(b)
	if err != nil {
		return fmt.Errorf("bounds %+v: %w", b, constants.ErrInvalidArgument)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.rectByID[id]
	if !ok {
		return fmt.Errorf("rect %q: %w", id, constants.ErrNotFound)
	}
	if !ix.rects.Delete(old) {
		return fmt.Errorf("rect %q desynced from tree: %w", id, constants.ErrInternal)
	}
	item := &rectItem{id: id, bounds: b, rect: rect}
	ix.rects.Insert(item)
	ix.rectByID[id] = item
	return nil
}

// RemoveRect deletes a rectangle entity from the index.
func (ix *Index) RemoveRect(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.rectByID[id]
	if !ok {
		return fmt.Errorf("rect %q: %w", id, constants.ErrNotFound)
	}
	if !ix.rects.Delete(old) {
		return fmt.Errorf("rect %q desynced from tree: %w", id, constants.ErrInternal)
	}
	delete(ix.rectByID, id)
	return nil
}

// RectBounds returns the current bounds of a rectangle entity.
func (ix *Index) RectBounds(id string) (Bounds, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	item, ok := ix.rectByID[id]
	if !ok {
		return Bounds{}, false
	}
	return item.bounds, true
}

// PointsIn returns the ids of all point entities inside the bounds.
func (ix *Index) PointsIn(b Bounds) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]struct{})
	search, err := boundsRect(b)
	if err != nil {
		return out
	}
	for _, hit := range ix.points.SearchIntersect(search) {
		item := hit.(*pointItem)
		if b.Contains(item.lat, item.lon) {
			out[item.id] = struct{}{}
		}
	}
	return out
}

// RectsContaining returns the ids of all rectangle entities whose
// bounds contain the point.
func (ix *Index) RectsContaining(lat, lon float64) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]struct{})
	for _, hit := range ix.rects.SearchIntersect(pointRect(lat, lon)) {
		item := hit.(*rectItem)
		if item.bounds.Contains(lat, lon) {
			out[item.id] = struct{}{}
		}
	}
	return out
}

// Counts returns the number of indexed points and rectangles.
func (ix *Index) Counts() (points int, rects int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pointByID), len(ix.rectByID)
}
