package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestProductLocks_SameIDWaits(t *testing.T) {
	locks := newProductLocks()
	id := uuid.New()

	unlock := locks.lock(id)

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		release := locks.lock(id)
		close(acquired)
		release()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same id must wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	<-released

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks, "idle ids must not stay in the table")
}

func TestProductLocks_OtherIDsDoNotWait(t *testing.T) {
	locks := newProductLocks()

	unlock := locks.lock(uuid.New())
	defer unlock()

	done := make(chan struct{})
	go func() {
		locks.lock(uuid.New())()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another id blocked")
	}
}
