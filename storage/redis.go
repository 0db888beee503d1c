package storage

import (
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"

	"github.com/GeeoIO/geeo-server/config"
	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/logger"
)

// Redis stores POIs and air beacons as JSON values in two hashes,
// keyed by entity id.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis and verifies the connection with a ping.
func NewRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetString("storage.redis.addr"),
		Password: cfg.GetString("storage.redis.password"),
		DB:       cfg.GetInt("storage.redis.db"),
	})
	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("cannot ping redis at %s: %w", cfg.GetString("storage.redis.addr"), err)
	}
	r := &Redis{client: client, prefix: cfg.GetString("storage.redis.keyPrefix")}
	logger.Infof("redis storage connected addr:%s prefix:%s", cfg.GetString("storage.redis.addr"), r.prefix)
	return r, nil
}

func (r *Redis) poiKey() string    { return r.prefix + ":pois" }
func (r *Redis) beaconKey() string { return r.prefix + ":beacons" }

// LoadPOIs returns all persisted POIs.
func (r *Redis) LoadPOIs() ([]*entity.POI, error) {
	vals, err := r.client.HGetAll(r.poiKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.POI, 0, len(vals))
	for id, raw := range vals {
		p := &entity.POI{}
		if err := json.Unmarshal([]byte(raw), p); err != nil {
			logger.Errorf("skipping corrupt poi record %s: %s", id, err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadAirBeacons returns all persisted beacons.
func (r *Redis) LoadAirBeacons() ([]*entity.AirBeacon, error) {
	vals, err := r.client.HGetAll(r.beaconKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.AirBeacon, 0, len(vals))
	for id, raw := range vals {
		ab := &entity.AirBeacon{}
		if err := json.Unmarshal([]byte(raw), ab); err != nil {
			logger.Errorf("skipping corrupt beacon record %s: %s", id, err)
			continue
		}
		out = append(out, ab)
	}
	return out, nil
}

// SavePOI persists one POI.
func (r *Redis) SavePOI(p *entity.POI) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.client.HSet(r.poiKey(), p.ID, string(raw)).Result()
	return err
}

// DeletePOI removes one POI.
func (r *Redis) DeletePOI(id string) error {
	_, err := r.client.HDel(r.poiKey(), id).Result()
	return err
}

// SaveAirBeacon persists one beacon.
func (r *Redis) SaveAirBeacon(ab *entity.AirBeacon) error {
	raw, err := json.Marshal(ab)
	if err != nil {
		return err
	}
	_, err = r.client.HSet(r.beaconKey(), ab.ID, string(raw)).Result()
	return err
}

// DeleteAirBeacon removes one beacon.
func (r *Redis) DeleteAirBeacon(id string) error {
	_, err := r.client.HDel(r.beaconKey(), id).Result()
	return err
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
