package escrow

import "sync"

// opGuard is the "operation in progress" flag from the reentrancy rule: while
// an operation that moves value is running for a transaction id, any nested
// invocation on the same id is rejected instead of waiting. Cross-process
// serialization is provided by the row lock; this guard exists to stop a
// settlement callback from re-entering the ledger on the same call stack.
type opGuard struct {
	mu         sync.Mutex
	inProgress map[int64]struct{}
}

func newOpGuard() *opGuard {
	return &opGuard{inProgress: make(map[int64]struct{})}
}

func (g *opGuard) enter(id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inProgress[id]; busy {
		return ErrReentrantCall
	}
	g.inProgress[id] = struct{}{}
	return nil
}

func (g *opGuard) exit(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inProgress, id)
}
