// Package pool implements the async connection-pool semantics spec.md
// section 4.8 borrows from aiomysql/cymysql's sync_create_pool: a
// minsize/maxsize bounded set of driver.Conn values (Open dials them
// through mysql.NewConnector), a pool_recycle
// staleness window, optional liveness echo, and a FIFO waiter queue so
// Acquire is fair under contention.
//
// Go has no cooperative scheduler to straddle, so this single
// implementation serves both "sync" and "async" callers: every blocking
// operation takes a context.Context and suspends the calling goroutine
// at the same socket read/write boundary the aiomysql original suspends
// its coroutine (see the top-level DESIGN.md "Async pool" entry).
package pool

import (
	"context"
	"container/list"
	"database/sql/driver"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Dialer opens one new backing connection. The caller supplies this so
// the pool stays independent of this module's own driver package,
// matching how zhglin-mysql's connector.go keeps dialing pluggable via
// RegisterDialContext.
type Dialer func(ctx context.Context) (driver.Conn, error)

// Pinger is implemented by connections that support a liveness probe
// (driver.Pinger, which the mysql driver's connections satisfy); the pool's health check
// uses it and silently skips the probe for connections that don't.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config mirrors aiomysql's create_pool keyword arguments.
type Config struct {
	MinSize     int           // connections kept warm even when idle
	MaxSize     int           // hard cap on concurrently held connections
	PoolRecycle time.Duration // max connection age before forced replacement; <=0 disables
	Echo        bool          // if true, Acquire pings the connection before handing it out
}

type pooledConn struct {
	conn      driver.Conn
	createdAt time.Time
}

// Pool is a minsize/maxsize bounded pool of driver.Conn, FIFO-fair under
// contention via golang.org/x/sync/semaphore.Weighted (spec.md section
// 4.8's async pool invariant: waiters are served in arrival order, not
// however the runtime happens to wake goroutines).
type Pool struct {
	cfg  Config
	dial Dialer
	sem  *semaphore.Weighted

	mu      sync.Mutex
	idle    *list.List // of *pooledConn
	created map[driver.Conn]time.Time // creation time, preserved across Release
	size    int                       // conns currently dialed (idle + checked out)
	closed  bool
}

// New creates a pool and eagerly dials MinSize connections, mirroring
// aiomysql.create_pool's eager fill.
func New(ctx context.Context, cfg Config, dial Dialer) (*Pool, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}

	p := &Pool{
		cfg:     cfg,
		dial:    dial,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSize)),
		idle:    list.New(),
		created: make(map[driver.Conn]time.Time),
	}

	for i := 0; i < cfg.MinSize; i++ {
		c, err := p.dialOne(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.mu.Lock()
		p.idle.PushBack(c)
		p.mu.Unlock()
	}

	return p, nil
}

func (p *Pool) dialOne(ctx context.Context) (*pooledConn, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p.mu.Lock()
	p.size++
	p.created[conn] = now
	p.mu.Unlock()
	return &pooledConn{conn: conn, createdAt: now}, nil
}

// Acquire waits for a free slot (FIFO via the semaphore's internal
// queue), then returns an idle connection — recycling it if
// PoolRecycle has elapsed or Echo requested a liveness check, and
// dialing fresh if none are idle. ctx cancellation while waiting
// returns ctx.Err(); waiting past Pool.Close returns PoolClosed.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, PoolClosed{}
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, PoolClosed{}
		}

		if el := p.idle.Front(); el != nil {
			p.idle.Remove(el)
			pc := el.Value.(*pooledConn)
			p.mu.Unlock()

			if p.stale(pc) {
				pc.conn.Close()
				p.mu.Lock()
				p.size--
				delete(p.created, pc.conn)
				p.mu.Unlock()
				continue
			}

			if p.cfg.Echo {
				if pinger, ok := pc.conn.(Pinger); ok {
					if err := pinger.Ping(ctx); err != nil {
						pc.conn.Close()
						p.mu.Lock()
						p.size--
						delete(p.created, pc.conn)
						p.mu.Unlock()
						continue
					}
				}
			}
			return pc.conn, nil
		}
		p.mu.Unlock()

		pc, err := p.dialOne(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		return pc.conn, nil
	}
}

func (p *Pool) stale(pc *pooledConn) bool {
	if p.cfg.PoolRecycle <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > p.cfg.PoolRecycle
}

// Release returns a connection to the idle list, or discards it
// (closing the slot) if the pool has since been closed. The connection's
// original dial time is preserved so PoolRecycle measures true age, not
// time-since-last-release.
func (p *Pool) Release(conn driver.Conn) {
	defer p.sem.Release(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		p.size--
		delete(p.created, conn)
		return
	}
	p.idle.PushBack(&pooledConn{conn: conn, createdAt: p.created[conn]})
}

// Discard closes conn instead of returning it to the idle list — used
// by a caller that got ErrBadConn or another fatal error from the
// connection and knows it cannot be reused.
func (p *Pool) Discard(conn driver.Conn) {
	defer p.sem.Release(1)

	conn.Close()
	p.mu.Lock()
	p.size--
	delete(p.created, conn)
	p.mu.Unlock()
}

// Close closes every idle connection and marks the pool closed; any
// checked-out connections are closed by their holder's Discard/Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	for el := p.idle.Front(); el != nil; el = el.Next() {
		pc := el.Value.(*pooledConn)
		pc.conn.Close()
		delete(p.created, pc.conn)
	}
	p.idle.Init()
	return nil
}

// Size reports (idle, total) connection counts for diagnostics.
func (p *Pool) Size() (idle, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len(), p.size
}
