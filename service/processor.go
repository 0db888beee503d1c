// Package service runs the single serializing command processor: one
// goroutine drains a bounded queue fed by every connection's read loop,
// applies each command to the entity store, folds the resulting spatial
// changes through the notification engine, and fans the coalesced
// batches out to sessions and the webhook dispatcher. Serializing all
// mutation on one goroutine is what makes every command atomic with
// respect to the store, the index and the membership sets.
package service

import (
	"fmt"
	"time"

	"github.com/GeeoIO/geeo-server/config"
	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/entity"
	"github.com/GeeoIO/geeo-server/event"
	"github.com/GeeoIO/geeo-server/geo"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/metrics"
	"github.com/GeeoIO/geeo-server/protocol"
	"github.com/GeeoIO/geeo-server/session"
	"github.com/GeeoIO/geeo-server/storage"
	"github.com/GeeoIO/geeo-server/token"
)

// BeaconSink receives air-beacon events for asynchronous delivery. The
// webhook dispatcher implements it.
type BeaconSink interface {
	Enqueue(events []event.BeaconEvent)
}

type taskKind int8

const (
	taskOpen taskKind = iota + 1
	taskMessage
	taskClose
)

type task struct {
	kind   taskKind
	sess   *session.Session
	raw    []byte
	claims *token.Claims
	done   chan struct{}
}

// Processor is the command processor.
type Processor struct {
	store       *entity.Store
	engine      *event.Engine
	sink        BeaconSink
	storage     storage.Storage
	queue       chan task
	quit        chan struct{}
	stopped     chan struct{}
	strikeLimit int
}

// NewProcessor wires the processor over its collaborators.
func NewProcessor(cfg *config.Config, store *entity.Store, engine *event.Engine, sink BeaconSink, st storage.Storage) *Processor {
	return &Processor{
		store:       store,
		engine:      engine,
		sink:        sink,
		storage:     st,
		queue:       make(chan task, cfg.GetInt("geeo.processor.buffer")),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		strikeLimit: cfg.GetInt("geeo.protocol.strikes"),
	}
}

// Restore replays persisted POIs and air beacons into the store. Called
// once at startup, before any connection is accepted, so no events are
// emitted.
func (p *Processor) Restore() error {
	pois, err := p.storage.LoadPOIs()
	if err != nil {
		return fmt.Errorf("load pois: %w", err)
	}
	for _, poi := range pois {
		if _, err := p.store.CreatePOI(poi.ID, poi.Lat, poi.Lon, poi.Creator, poi.PublicData); err != nil {
			logger.Errorf("skipping persisted poi %s: %s", poi.ID, err)
		}
	}
	beacons, err := p.storage.LoadAirBeacons()
	if err != nil {
		return fmt.Errorf("load air beacons: %w", err)
	}
	for _, ab := range beacons {
		ch, err := p.store.CreateAirBeacon(ab.ID, ab.Bounds, ab.Creator, ab.PublicData)
		if err != nil {
			logger.Errorf("skipping persisted beacon %s: %s", ab.ID, err)
			continue
		}
		// rebuild membership silently; beacons only notify transitions
		res := event.NewResult()
		p.engine.React(ch, res)
	}
	logger.Infof("restored %d pois, %d air beacons", len(pois), len(beacons))
	return nil
}

// Start launches the processor goroutine.
func (p *Processor) Start() {
	go p.run()
}

// Stop shuts the processor down after the current task.
func (p *Processor) Stop() {
	close(p.quit)
	<-p.stopped
}

// Drain waits until the queue is empty or the deadline passes. Used on
// shutdown so disconnect cleanup enqueued by closing sessions still
// runs before Stop.
func (p *Processor) Drain(deadline time.Duration) {
	timeout := time.After(deadline)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if len(p.queue) == 0 {
			return
		}
		select {
		case <-timeout:
			logger.Warnf("processor drain deadline exceeded, %d tasks pending", len(p.queue))
			return
		case <-tick.C:
		}
	}
}

// Open binds the token's entities to a freshly accepted session and
// registers disconnect cleanup. Blocks until the bind is processed so
// the caller can start the read loop against consistent state.
func (p *Processor) Open(s *session.Session, claims *token.Claims) error {
	// cleanup must be registered before the bind runs: handleOpen closes
	// the session itself when a bind partially fails, and close
	// callbacks added after Close never run
	s.OnClose(func() {
		// enqueued, not inline: cleanup must serialize with commands
		if err := p.submit(task{kind: taskClose, sess: s}); err != nil {
			logger.Errorf("session %s: cleanup not enqueued: %s", s.ID(), err)
		}
	})

	done := make(chan struct{})
	if err := p.submit(task{kind: taskOpen, sess: s, claims: claims, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
	case <-p.stopped:
		return constants.ErrServerShutdown
	}
	return nil
}

// Submit queues one inbound message. Blocks when the queue is full,
// which back-pressures that connection's read loop without dropping
// mutations.
func (p *Processor) Submit(s *session.Session, raw []byte) error {
	return p.submit(task{kind: taskMessage, sess: s, raw: raw})
}

func (p *Processor) submit(t task) error {
	select {
	case <-p.quit:
		return constants.ErrServerShutdown
	case p.queue <- t:
		return nil
	}
}

func (p *Processor) run() {
	defer close(p.stopped)
	for {
		metrics.QueueDepth.Set(float64(len(p.queue)))
		select {
		case <-p.quit:
			return
		case t := <-p.queue:
			p.dispatch(t)
		}
	}
}

func (p *Processor) dispatch(t task) {
	switch t.kind {
	case taskOpen:
		p.handleOpen(t)
	case taskMessage:
		p.handleMessage(t)
	case taskClose:
		p.handleClose(t)
	}
	p.updateGauges()
	if t.done != nil {
		close(t.done)
	}
}

func (p *Processor) handleOpen(t task) {
	s, claims := t.sess, t.claims
	caps := s.Caps()

	if claims.AgentID != "" && caps.Agent {
		if _, err := p.store.CreateAgent(s.ID(), claims.AgentID); err != nil {
			s.PushError(err)
			s.Close()
			return
		}
		if err := s.SetAgentID(claims.AgentID); err != nil {
			s.PushError(err)
			s.Close()
			return
		}
	}
	if claims.ViewID != "" && caps.View {
		if _, err := p.store.CreateView(s.ID(), claims.ViewID); err != nil {
			s.PushError(err)
			s.Close()
			return
		}
		if err := s.SetViewID(claims.ViewID); err != nil {
			s.PushError(err)
			s.Close()
			return
		}
	}
	logger.Debugf("session %s open agent:%s view:%s", s.ID(), s.AgentID(), s.ViewID())
}

func (p *Processor) handleClose(t task) {
	s := t.sess
	res := event.NewResult()

	if ch, had, err := p.store.RemoveAgent(s.ID()); err != nil {
		logger.Errorf("session %s: agent cleanup: %s", s.ID(), err)
	} else if had {
		p.engine.React(ch, res)
	}
	if ch, had, err := p.store.RemoveView(s.ID()); err != nil {
		logger.Errorf("session %s: view cleanup: %s", s.ID(), err)
	} else if had {
		p.engine.React(ch, res)
	}

	p.flush(res)
	logger.Debugf("session %s cleaned up", s.ID())
}

func (p *Processor) handleMessage(t task) {
	s := t.sess
	cmd, err := protocol.Decode(t.raw)
	if err != nil {
		p.reject(s, err)
		if p.strikeLimit > 0 && s.Strike() >= p.strikeLimit {
			logger.Warnf("session %s exceeded protocol strike limit, closing", s.ID())
			s.Close()
		}
		return
	}
	s.Touch()

	res := event.NewResult()
	err = p.apply(s, cmd, res)
	// events produced before the failing sub-command still flush; the
	// store already applied them
	p.flush(res)
	if err != nil {
		p.reject(s, err)
	}
}

// apply runs the sub-commands of one message in protocol order,
// stopping at the first failure.
func (p *Processor) apply(s *session.Session, cmd *protocol.Command, res *event.Result) error {
	caps := s.Caps()

	if cmd.AgentPosition != nil {
		metrics.CommandsProcessed.WithLabelValues("agentPosition").Inc()
		if !caps.Agent {
			return fmt.Errorf("connection has no agent capability: %w", constants.ErrPermissionDenied)
		}
		lat, lon := protocol.LatLon(cmd.AgentPosition)
		ch, err := p.store.MoveAgent(s.ID(), lat, lon)
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
	}

	if cmd.ViewPosition != nil {
		metrics.CommandsProcessed.WithLabelValues("viewPosition").Inc()
		if !caps.View {
			return fmt.Errorf("connection has no view capability: %w", constants.ErrPermissionDenied)
		}
		lat1, lat2, lon1, lon2 := protocol.QuadCorners(cmd.ViewPosition)
		ch, err := p.store.MoveView(s.ID(), geo.NewBounds(lat1, lat2, lon1, lon2))
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
	}

	if cmd.CreatePOI != nil {
		metrics.CommandsProcessed.WithLabelValues("createPOI").Inc()
		if !caps.CreatePOI {
			return fmt.Errorf("connection has no poi capability: %w", constants.ErrPermissionDenied)
		}
		lat, lon := protocol.LatLon(cmd.CreatePOI.Pos)
		ch, err := p.store.CreatePOI(cmd.CreatePOI.ID, lat, lon, s.AgentID(), cmd.CreatePOI.PublicData)
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
		p.persistPOI(cmd.CreatePOI.ID)
	}

	if cmd.RemovePOI != nil {
		metrics.CommandsProcessed.WithLabelValues("removePOI").Inc()
		if s.AgentID() == "" {
			return fmt.Errorf("connection has no agent identity: %w", constants.ErrPermissionDenied)
		}
		ch, err := p.store.RemovePOI(cmd.RemovePOI.ID, s.AgentID())
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
		if err := p.storage.DeletePOI(cmd.RemovePOI.ID); err != nil {
			logger.Errorf("poi %s not deleted from storage: %s", cmd.RemovePOI.ID, err)
		}
	}

	if cmd.CreateAirBeacon != nil {
		metrics.CommandsProcessed.WithLabelValues("createAirBeacon").Inc()
		if !caps.CreateBeacon {
			return fmt.Errorf("connection has no beacon capability: %w", constants.ErrPermissionDenied)
		}
		lat1, lat2, lon1, lon2 := protocol.QuadCorners(cmd.CreateAirBeacon.Pos)
		ch, err := p.store.CreateAirBeacon(cmd.CreateAirBeacon.ID,
			geo.NewBounds(lat1, lat2, lon1, lon2), s.AgentID(), cmd.CreateAirBeacon.PublicData)
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
		p.persistBeacon(cmd.CreateAirBeacon.ID)
	}

	if cmd.RemoveAirBeacon != nil {
		metrics.CommandsProcessed.WithLabelValues("removeAirBeacon").Inc()
		if s.AgentID() == "" {
			return fmt.Errorf("connection has no agent identity: %w", constants.ErrPermissionDenied)
		}
		ch, err := p.store.RemoveAirBeacon(cmd.RemoveAirBeacon.ID, s.AgentID())
		if err != nil {
			return err
		}
		p.engine.React(ch, res)
		if err := p.storage.DeleteAirBeacon(cmd.RemoveAirBeacon.ID); err != nil {
			logger.Errorf("beacon %s not deleted from storage: %s", cmd.RemoveAirBeacon.ID, err)
		}
	}

	return nil
}

func (p *Processor) persistPOI(id string) {
	if poi, ok := p.store.POI(id); ok {
		if err := p.storage.SavePOI(poi); err != nil {
			logger.Errorf("poi %s not persisted: %s", id, err)
		}
	}
}

func (p *Processor) persistBeacon(id string) {
	if ab, ok := p.store.AirBeacon(id); ok {
		if err := p.storage.SaveAirBeacon(ab); err != nil {
			logger.Errorf("beacon %s not persisted: %s", id, err)
		}
	}
}

// flush delivers one coalesced batch per destination connection and
// hands beacon events to the dispatcher.
func (p *Processor) flush(res *event.Result) {
	for connID, batch := range res.Batches {
		dst := session.GetSessionByID(connID)
		if dst == nil {
			continue
		}
		for i := range batch {
			switch {
			case batch[i].Entered:
				metrics.EventsEmitted.WithLabelValues("entered").Inc()
			case batch[i].Left:
				metrics.EventsEmitted.WithLabelValues("left").Inc()
			default:
				metrics.EventsEmitted.WithLabelValues("moved").Inc()
			}
		}
		if err := dst.Push(batch); err != nil {
			logger.Debugf("session %s: batch not delivered: %s", connID, err)
		}
	}
	if len(res.BeaconEvents) > 0 {
		p.sink.Enqueue(res.BeaconEvents)
	}
}

func (p *Processor) reject(s *session.Session, err error) {
	metrics.CommandErrors.WithLabelValues(protocol.ErrorFor(err).Error).Inc()
	s.PushError(err)
}

func (p *Processor) updateGauges() {
	agents, pois, views, beacons := p.store.Counts()
	metrics.Entities.WithLabelValues("agent").Set(float64(agents))
	metrics.Entities.WithLabelValues("poi").Set(float64(pois))
	metrics.Entities.WithLabelValues("view").Set(float64(views))
	metrics.Entities.WithLabelValues("airbeacon").Set(float64(beacons))
}
