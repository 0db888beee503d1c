// Package session binds one transport connection to at most one agent
// and at most one view, and owns their lifecycle: both ids die with the
// connection, on every disconnect path.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/protocol"
)

// NetworkEntity represents the low-level network instance behind a
// session. The acceptor's write pump implements it.
type NetworkEntity interface {
	Push(batch []protocol.Update) error
	PushError(msg protocol.ErrorMessage) error
	Close() error
	RemoteAddr() net.Addr
}

// Capabilities are the operations the connection's token grants.
type Capabilities struct {
	Agent        bool
	View         bool
	CreatePOI    bool
	CreateBeacon bool
}

var (
	sessionsByID sync.Map
	// SessionCount keeps the current number of sessions
	SessionCount int64
)

// Session represents one client connection. Its agent and view slots
// are only ever touched by the command processor; the lock guards the
// close path, which may run from the transport goroutine.
type Session struct {
	sync.RWMutex
	id       string
	network  NetworkEntity
	caps     Capabilities
	agentID  string
	viewID   string
	lastTime int64
	strikes  int32
	closed   bool

	// OnCloseCallbacks run exactly once when the session closes
	OnCloseCallbacks []func()
}

// New returns a new session over the given network entity.
func New(network NetworkEntity, caps Capabilities) *Session {
	s := &Session{
		id:       uuid.New().String(),
		network:  network,
		caps:     caps,
		lastTime: time.Now().Unix(),
	}
	sessionsByID.Store(s.id, s)
	atomic.AddInt64(&SessionCount, 1)
	return s
}

// GetSessionByID returns the session for a connection id.
func GetSessionByID(id string) *Session {
	if val, ok := sessionsByID.Load(id); ok {
		return val.(*Session)
	}
	return nil
}

// CloseAll calls Close on all sessions (server shutdown).
func CloseAll() {
	logger.Infof("closing all sessions, %d sessions", atomic.LoadInt64(&SessionCount))
	sessionsByID.Range(func(_, value interface{}) bool {
		value.(*Session).Close()
		return true
	})
	logger.Infof("finished closing sessions")
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Caps returns the capabilities granted to the connection.
func (s *Session) Caps() Capabilities { return s.caps }

// AgentID returns the bound agent id, or "".
func (s *Session) AgentID() string { return s.agentID }

// SetAgentID records the agent bound to this connection.
func (s *Session) SetAgentID(id string) error {
	if id != "" && s.agentID != "" {
		return constants.ErrSessionAlreadyBound
	}
	s.agentID = id
	return nil
}

// ViewID returns the bound view id, or "".
func (s *Session) ViewID() string { return s.viewID }

// SetViewID records the view bound to this connection.
func (s *Session) SetViewID(id string) error {
	if id != "" && s.viewID != "" {
		return constants.ErrSessionAlreadyBound
	}
	s.viewID = id
	return nil
}

// Push sends a coalesced update batch to the client.
func (s *Session) Push(batch []protocol.Update) error {
	s.RLock()
	closed := s.closed
	s.RUnlock()
	if closed {
		return constants.ErrSessionClosed
	}
	return s.network.Push(batch)
}

// PushError reports a per-command error back to the client. The
// connection stays open.
func (s *Session) PushError(err error) {
	s.RLock()
	closed := s.closed
	s.RUnlock()
	if closed {
		return
	}
	if perr := s.network.PushError(protocol.ErrorFor(err)); perr != nil {
		logger.Warnf("session %s: push error failed: %s", s.id, perr)
	}
}

// Strike counts one protocol violation and returns the running total.
func (s *Session) Strike() int {
	return int(atomic.AddInt32(&s.strikes, 1))
}

// Touch records activity for idle accounting.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastTime, time.Now().Unix())
}

// OnClose adds a callback run when the session closes.
func (s *Session) OnClose(c func()) {
	s.Lock()
	defer s.Unlock()
	s.OnCloseCallbacks = append(s.OnCloseCallbacks, c)
}

// Close terminates the session. It is idempotent; the close callbacks
// (entity cleanup among them) run exactly once.
func (s *Session) Close() {
	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	s.closed = true
	callbacks := s.OnCloseCallbacks
	s.OnCloseCallbacks = nil
	s.Unlock()

	atomic.AddInt64(&SessionCount, -1)
	sessionsByID.Delete(s.id)
	for _, cb := range callbacks {
		cb()
	}
	if err := s.network.Close(); err != nil {
		logger.Debugf("session %s: network close: %s", s.id, err)
	}
}

// RemoteAddr returns the remote network address.
func (s *Session) RemoteAddr() net.Addr {
	return s.network.RemoteAddr()
}
