package graph

import "context"

// runSequential executes every node in topological order, invoking the
// intermediate-tensor reclaimer after each step, per spec.md §4.4 step 6.
func (g *Graph) runSequential(ctx context.Context, lifetimes map[*Node]*lifetime) error {
	for step, n := range g.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.runNode(n); err != nil {
			return err
		}
		reclaimAfterStep(step, lifetimes)
	}
	return nil
}
