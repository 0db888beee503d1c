package acceptor

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GeeoIO/geeo-server/constants"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/metrics"
	"github.com/GeeoIO/geeo-server/protocol"
)

// wsConn implements session.NetworkEntity over one gorilla connection.
// Outbound updates accumulate in a pending slice drained by a writer
// goroutine; when the consumer is slow, a newer plain position update
// supersedes the older one for the same entity in place, so the queue
// is bounded by the number of distinct entities plus the transitions,
// and only stale intermediate positions are ever lost.
type wsConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending []protocol.Update
	closed  bool

	wake chan struct{}
	done chan struct{}

	writeWait  time.Duration
	pingPeriod time.Duration
	maxPending int

	closeOnce sync.Once
	writeMu   sync.Mutex // gorilla allows a single concurrent writer
}

func newWSConn(conn *websocket.Conn, writeWait, pongWait time.Duration, maxPending int) *wsConn {
	return &wsConn{
		conn:       conn,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		writeWait:  writeWait,
		pingPeriod: pongWait * 9 / 10,
		maxPending: maxPending,
	}
}

// Push queues one coalesced batch. Never blocks on the network.
func (c *wsConn) Push(batch []protocol.Update) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return constants.ErrSessionClosed
	}
	for _, u := range batch {
		if !u.Transition() && c.supersede(u) {
			continue
		}
		if !u.Transition() && len(c.pending) >= c.maxPending {
			// a stale plain move on a saturated consumer is droppable,
			// the next position will supersede it anyway
			metrics.DroppedUpdates.Inc()
			continue
		}
		c.pending = append(c.pending, u)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// supersede replaces an already-pending plain move for the same entity.
// Transitions are never touched: their order carries meaning.
func (c *wsConn) supersede(u protocol.Update) bool {
	id := u.EntityID()
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i].Transition() {
			continue
		}
		if c.pending[i].EntityID() == id {
			c.pending[i] = u
			metrics.DroppedUpdates.Inc()
			return true
		}
	}
	return false
}

// PushError writes the bare error object immediately.
func (c *wsConn) PushError(msg protocol.ErrorMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return constants.ErrSessionClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(msg)
}

// Close tears the connection down. Idempotent.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// startWriter launches the write pump. It owns all batch writes and the
// keepalive pings.
func (c *wsConn) startWriter() {
	go func() {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-c.wake:
				if !c.drain() {
					return
				}
			case <-ticker.C:
				c.writeMu.Lock()
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					c.Close()
					return
				}
			}
		}
	}()
}

// drain writes everything pending as one JSON array. Reports false when
// the connection is dead.
func (c *wsConn) drain() bool {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return true
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	err := c.conn.WriteJSON(batch)
	c.writeMu.Unlock()
	if err != nil {
		logger.Debugf("write pump: %s", err)
		c.Close()
		return false
	}
	return true
}
