package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pool tracks live SSE sessions by connection ID. A new session with an
// ID already in use replaces the old one; the pool refuses sessions past
// its cap and sweeps idle ones on an interval.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	maxSessions int
	heartbeat   time.Duration
	idleTimeout time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPool creates a session pool and starts its sweep loop.
func NewPool(maxSessions int, heartbeat, sweepInterval, idleTimeout time.Duration) *Pool {
	p := &Pool{
		connections: make(map[string]*Connection),
		maxSessions: maxSessions,
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	if sweepInterval > 0 {
		go p.sweepLoop(sweepInterval)
	}
	return p
}

// Create opens a session for the given ID, replacing any existing one.
// Returns an error when the pool is at capacity.
func (p *Pool) Create(w http.ResponseWriter, id string) (*Connection, error) {
	p.mu.Lock()
	if existing, ok := p.connections[id]; ok {
		existing.Close()
		delete(p.connections, id)
	} else if len(p.connections) >= p.maxSessions {
		p.mu.Unlock()
		log.Warn().Int("max", p.maxSessions).Msg("sse pool full, rejecting connection")
		return nil, fmt.Errorf("stream pool full (%d sessions)", p.maxSessions)
	}
	p.mu.Unlock()

	conn, err := NewConnection(w, id, p.heartbeat)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.connections[id] = conn
	total := len(p.connections)
	p.mu.Unlock()

	log.Info().Str("connection", id).Int("total", total).Msg("sse connection created")
	return conn, nil
}

// Get returns the session for an ID, if present.
func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.connections[id]
	return conn, ok
}

// CloseConnection closes and removes one session.
func (p *Pool) CloseConnection(id string) {
	p.mu.Lock()
	conn, ok := p.connections[id]
	if ok {
		delete(p.connections, id)
	}
	remaining := len(p.connections)
	p.mu.Unlock()

	if ok {
		conn.Close()
		log.Info().Str("connection", id).Int("remaining", remaining).Msg("sse connection closed")
	}
}

// Count returns the number of tracked sessions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// CleanupInactive removes closed sessions and closes ones idle past the
// timeout.
func (p *Pool) CleanupInactive() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var stale []*Connection
	for id, conn := range p.connections {
		if !conn.Active() || (p.idleTimeout > 0 && conn.IdleSince().Before(cutoff)) {
			stale = append(stale, conn)
			delete(p.connections, id)
		}
	}
	p.mu.Unlock()

	for _, conn := range stale {
		conn.Close()
	}
	if len(stale) > 0 {
		log.Debug().Int("swept", len(stale)).Msg("sse pool sweep")
	}
}

// CloseAll shuts down every session and stops the sweep loop.
func (p *Pool) CloseAll() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for id, conn := range p.connections {
		conns = append(conns, conn)
		delete(p.connections, id)
	}
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (p *Pool) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.CleanupInactive()
		}
	}
}

// Shutdown closes the pool when the context ends. Intended to be started
// once from server composition.
func (p *Pool) Shutdown(ctx context.Context) {
	<-ctx.Done()
	p.CloseAll()
}
