// Package storage persists points of interest and air beacons so they
// survive restarts. Agents and views are transient by design and never
// stored.
package storage

import (
	"github.com/GeeoIO/geeo-server/entity"
)

// Storage is the persistence seam. The redis implementation backs
// production; Memory backs tests and redis-less deployments.
type Storage interface {
	LoadPOIs() ([]*entity.POI, error)
	LoadAirBeacons() ([]*entity.AirBeacon, error)
	SavePOI(p *entity.POI) error
	DeletePOI(id string) error
	SaveAirBeacon(ab *entity.AirBeacon) error
	DeleteAirBeacon(id string) error
	Close() error
}

// Memory is a non-durable Storage used when no redis address is
// configured.
type Memory struct {
	pois    map[string]*entity.POI
	beacons map[string]*entity.AirBeacon
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		pois:    make(map[string]*entity.POI),
		beacons: make(map[string]*entity.AirBeacon),
	}
}

// LoadPOIs returns all stored POIs.
func (m *Memory) LoadPOIs() ([]*entity.POI, error) {
	out := make([]*entity.POI, 0, len(m.pois))
	for _, p := range m.pois {
		out = append(out, p)
	}
	return out, nil
}

// LoadAirBeacons returns all stored beacons.
func (m *Memory) LoadAirBeacons() ([]*entity.AirBeacon, error) {
	out := make([]*entity.AirBeacon, 0, len(m.beacons))
	for _, ab := range m.beacons {
		out = append(out, ab)
	}
	return out, nil
}

// SavePOI stores a POI.
func (m *Memory) SavePOI(p *entity.POI) error {
	cp := *p
	m.pois[p.ID] = &cp
	return nil
}

// DeletePOI removes a POI.
func (m *Memory) DeletePOI(id string) error {
	delete(m.pois, id)
	return nil
}

// SaveAirBeacon stores a beacon.
func (m *Memory) SaveAirBeacon(ab *entity.AirBeacon) error {
	cp := *ab
	m.beacons[ab.ID] = &cp
	return nil
}

// DeleteAirBeacon removes a beacon.
func (m *Memory) DeleteAirBeacon(id string) error {
	delete(m.beacons, id)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
