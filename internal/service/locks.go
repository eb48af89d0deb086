package service

import (
	"sync"

	"github.com/google/uuid"
)

// productLocks serializes image and row writes per product id within this
// process. Different ids never contend.
type productLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*productLock
}

type productLock struct {
	sync.Mutex
	refs int
}

func newProductLocks() *productLocks {
	return &productLocks{locks: make(map[uuid.UUID]*productLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (p *productLocks) lock(id uuid.UUID) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &productLock{}
		p.locks[id] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.mu.Unlock()
	}
}
