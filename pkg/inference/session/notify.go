package session

import "sync"

// notifyQueue lets listeners observe tree and state changes in the order the
// changes were made. A ticket is taken under the session lock; the holder
// waits for its turn after releasing that lock, so listeners may call back
// into the session.
type notifyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	next   uint64
	served uint64
}

func newNotifyQueue() *notifyQueue {
	ret := &notifyQueue{}
	ret.cond = sync.NewCond(&ret.mu)
	return ret
}

func (q *notifyQueue) take() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ret := q.next
	q.next++
	return ret
}

func (q *notifyQueue) wait(ticket uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.served != ticket {
		q.cond.Wait()
	}
}

func (q *notifyQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.served++
	q.cond.Broadcast()
}
