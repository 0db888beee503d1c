package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, ":8000", cfg.GetString("geeo.ws.addr"))
	assert.Equal(t, 256, cfg.GetInt("geeo.session.buffer"))
	assert.Equal(t, 8192, cfg.GetInt("geeo.processor.buffer"))
	assert.Equal(t, 60*time.Second, cfg.GetDuration("geeo.ws.pongWait"))
	assert.Equal(t, 4, cfg.GetInt("geeo.webhook.workers"))
	assert.True(t, cfg.GetBool("geeo.metrics.enabled"))
	assert.Equal(t, "geeo", cfg.GetString("storage.redis.keyPrefix"))
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	v.Set("geeo.ws.addr", ":9001")
	v.Set("geeo.webhook.url", "http://hooks.example.com/geeo")

	cfg := NewConfig(v)
	assert.Equal(t, ":9001", cfg.GetString("geeo.ws.addr"))
	assert.Equal(t, "http://hooks.example.com/geeo", cfg.GetString("geeo.webhook.url"))
	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.GetInt("geeo.webhook.buffer"))
}
