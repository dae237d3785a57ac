package graph

import (
	"context"
	"sync"
	"sync/atomic"
)

// runParallel dispatches ready nodes across a bounded worker pool, per
// spec.md §4.4 step 7 and §5's ordering guarantee: a node's forward runs
// strictly after every predecessor's forward returns.
//
// spec.md describes workers blocking on a counting semaphore and the main
// thread polling completion with a 1 ms sleep; §5 explicitly allows a
// completion counter + condition variable as a conforming substitute. This
// runner uses a buffered ready-queue channel plus an atomic completion
// counter closing that channel once every node has run — Go's equivalent
// of the same latch, without a busy-wait.
func (g *Graph) runParallel(ctx context.Context, lifetimes map[*Node]*lifetime, numThreads int) error {
	n := len(g.order)
	if n == 0 {
		return nil
	}

	inDegree := make(map[*Node]*int32, n)
	for _, node := range g.order {
		deg := int32(len(node.preds))
		inDegree[node] = &deg
	}

	ready := make(chan *Node, n)
	for _, node := range g.order {
		if *inDegree[node] == 0 {
			ready <- node
		}
	}

	var (
		mu       sync.Mutex
		firstErr error
		remaining = int64(n)
		closeOnce sync.Once
	)

	finishNode := func(node *Node, step int) {
		for _, succ := range node.succs {
			if atomic.AddInt32(inDegree[succ], -1) == 0 {
				ready <- succ
			}
		}
		reclaimAfterStep(step, lifetimes)
		if atomic.AddInt64(&remaining, -1) == 0 {
			closeOnce.Do(func() { close(ready) })
		}
	}

	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	workers := workerCount(numThreads)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range ready {
				if err := ctx.Err(); err != nil {
					recordErr(err)
					finishNode(node, node.executionOrder)
					continue
				}
				if err := g.runNode(node); err != nil {
					recordErr(err)
				}
				finishNode(node, node.executionOrder)
			}
		}()
	}
	wg.Wait()

	return firstErr
}
