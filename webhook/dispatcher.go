// Package webhook delivers air-beacon enter/leave notifications to a
// configured external URL. Delivery is fire-and-forget relative to the
// mutation path: a slow or unreachable endpoint never back-pressures
// the notification engine.
package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/GeeoIO/geeo-server/config"
	"github.com/GeeoIO/geeo-server/event"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/metrics"
)

// Dispatcher posts beacon events to the webhook URL from a small worker
// pool behind a bounded queue. When the queue is full events are
// dropped and logged; delivery is at-least-once attempted, not
// guaranteed.
type Dispatcher struct {
	url     string
	client  *http.Client
	queue   chan event.BeaconEvent
	retries int
	backoff time.Duration
	workers int

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher builds a dispatcher from configuration. With no URL
// configured every event is silently discarded.
func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		url:     cfg.GetString("geeo.webhook.url"),
		client:  &http.Client{Timeout: cfg.GetDuration("geeo.webhook.timeout")},
		queue:   make(chan event.BeaconEvent, cfg.GetInt("geeo.webhook.buffer")),
		retries: cfg.GetInt("geeo.webhook.retries"),
		backoff: cfg.GetDuration("geeo.webhook.backoff"),
		workers: cfg.GetInt("geeo.webhook.workers"),
		quit:    make(chan struct{}),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	if d.url == "" {
		logger.Infof("webhook dispatcher disabled, no url configured")
		return
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	logger.Infof("webhook dispatcher started url:%s workers:%d", d.url, d.workers)
}

// Enqueue hands events to the dispatcher without blocking. Events that
// do not fit in the queue are dropped.
func (d *Dispatcher) Enqueue(events []event.BeaconEvent) {
	if d.url == "" {
		return
	}
	for _, evt := range events {
		select {
		case <-d.quit:
			metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			logger.Warnf("webhook dispatcher shutting down, dropping %s event beacon:%s point:%s",
				evt.Kind, evt.BeaconID, evt.PointID)
			return
		case d.queue <- evt:
		default:
			metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			logger.Warnf("webhook queue full, dropping %s event beacon:%s point:%s",
				evt.Kind, evt.BeaconID, evt.PointID)
		}
	}
}

// Shutdown stops accepting events and waits for the workers to drain
// the queue, up to the deadline. The queue channel is never closed, so
// an Enqueue racing Shutdown cannot panic.
func (d *Dispatcher) Shutdown(deadline time.Duration) {
	d.once.Do(func() { close(d.quit) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		logger.Warnf("webhook dispatcher shutdown deadline exceeded")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case evt := <-d.queue:
			d.deliver(evt)
		case <-d.quit:
			// flush what was accepted before the shutdown signal
			for {
				select {
				case evt := <-d.queue:
					d.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(evt event.BeaconEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Errorf("webhook marshal failed: %s", err)
		return
	}
	for attempt := 0; ; attempt++ {
		err = d.post(body)
		if err == nil {
			metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
			return
		}
		if attempt >= d.retries {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			logger.Errorf("webhook delivery failed after %d attempts beacon:%s point:%s: %s",
				attempt+1, evt.BeaconID, evt.PointID, err)
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
		time.Sleep(d.backoff)
	}
}

func (d *Dispatcher) post(body []byte) error {
	resp, err := d.client.Post(d.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "webhook endpoint returned " + http.StatusText(e.code)
}
