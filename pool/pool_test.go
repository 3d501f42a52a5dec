package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     int
	closed int32
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *fakeConn) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	return nil
}
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not implemented") }

func newFakeDialer() (Dialer, *int32) {
	var n int32
	return func(ctx context.Context) (driver.Conn, error) {
		id := int(atomic.AddInt32(&n, 1))
		return &fakeConn{id: id}, nil
	}, &n
}

func TestPoolEagerlyFillsMinSize(t *testing.T) {
	dial, created := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 3, MaxSize: 5}, dial)
	require.NoError(t, err)
	defer p.Close()

	idle, total := p.Size()
	assert.Equal(t, 3, idle)
	assert.Equal(t, 3, total)
	assert.Equal(t, int32(3), atomic.LoadInt32(created))
}

func TestPoolAcquireReleaseReusesIdleConn(t *testing.T) {
	dial, created := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 1, MaxSize: 2}, dial)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	idle, total := p.Size()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 1, total)

	p.Release(conn)

	idle, total = p.Size()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 1, total)
	assert.Equal(t, int32(1), atomic.LoadInt32(created))
}

func TestPoolAcquireDialsBeyondMinSize(t *testing.T) {
	dial, created := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 0, MaxSize: 2}, dial)
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, c1.(*fakeConn).id, c2.(*fakeConn).id)
	assert.Equal(t, int32(2), atomic.LoadInt32(created))
}

func TestPoolAcquireBlocksAtMaxSizeUntilRelease(t *testing.T) {
	dial, _ := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 0, MaxSize: 1}, dial)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(conn)

	conn2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn2)
}

func TestPoolDiscardClosesConnAndFreesSlot(t *testing.T) {
	dial, _ := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 1, MaxSize: 1}, dial)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Discard(conn)
	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.(*fakeConn).closed))

	_, total := p.Size()
	assert.Equal(t, 0, total)

	conn2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn2)
}

func TestPoolRecyclesStaleConnections(t *testing.T) {
	dial, created := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 1, MaxSize: 1, PoolRecycle: time.Millisecond}, dial)
	require.NoError(t, err)
	defer p.Close()

	time.Sleep(5 * time.Millisecond)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(created))
	assert.NotNil(t, conn)
}

func TestPoolAcquireAfterCloseReturnsPoolClosed(t *testing.T) {
	dial, _ := newFakeDialer()
	p, err := New(context.Background(), Config{MinSize: 0, MaxSize: 1}, dial)
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Acquire(context.Background())
	assert.Equal(t, PoolClosed{}, err)
}
