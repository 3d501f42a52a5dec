package pool

// PoolClosed is returned by Acquire once Close has been called.
type PoolClosed struct{}

func (PoolClosed) Error() string { return "mysql/pool: pool is closed" }
