package pipeline

import (
	"context"
	"sync"
)

// pool bounds how many runs execute at once. The limit can change while
// runs are waiting; lowering it lets active runs finish and admits new ones
// only below the new limit.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
}

func newPool(limit int) *pool {
	p := &pool{limit: max(1, limit)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pool) acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active >= p.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.active++
	return nil
}

func (p *pool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pool) setLimit(limit int) {
	p.mu.Lock()
	p.limit = max(1, limit)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limit
}
