package traversal

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var outputsEmittedCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "traversal_outputs_emitted_count",
	Help: "The total number of outputs emitted across all traversal streams.",
})

type yieldOutcome uint8

const (
	// yieldEmitted carries one output (or the error an unfold produced).
	yieldEmitted yieldOutcome = iota
	// yieldPending means the output at the front is not ready yet.
	yieldPending
	// yieldExhausted means the execution tree is fully consumed.
	yieldExhausted
)

// yieldNext resumes the tree walk from the persisted cursor and emits the
// next output in depth-first order. Emitting consumes one unit of the owning
// node's budget, which is what bounds the number of queued items; force
// bypasses that gate so a weight underestimate can drain instead of stalling
// the stream.
func (s *Stream[In, Out]) yieldNext(force bool) (Out, yieldOutcome, error) {
	var zero Out
	for {
		if s.cursor == nil {
			return zero, yieldExhausted, nil
		}
		n, ok := s.arena[s.cursor.Node]
		if !ok {
			return zero, yieldPending, fmt.Errorf("%w: no node at index %d", ErrInvariantViolation, s.cursor.Node)
		}

		if s.cursor.Child >= len(n.children) {
			// Every child yielded: the node is done. Its leftover budget
			// folds back into the parent.
			if n.remaining != 0 {
				return zero, yieldPending, fmt.Errorf("%w: removing node %d with remaining weight %d", ErrInvariantViolation, s.cursor.Node, n.remaining)
			}
			surplus := n.budget
			parent := n.parent
			delete(s.arena, s.cursor.Node)

			if parent == nil {
				s.totalBudget -= min(s.totalBudget, surplus)
				s.cursor = nil
				continue
			}
			p, ok := s.arena[parent.Node]
			if !ok {
				return zero, yieldPending, fmt.Errorf("%w: no parent node at index %d", ErrInvariantViolation, parent.Node)
			}
			p.childComplete(parent.Child, surplus)
			if err := s.reconcileUp(parent.Node); err != nil {
				return zero, yieldPending, err
			}
			s.cursor = &Location{Node: parent.Node, Child: parent.Child + 1}
			continue
		}

		c := &n.children[s.cursor.Child]
		switch c.kind {
		case childYielded:
			s.cursor.Child++

		case childUnscheduled, childPending:
			return zero, yieldPending, nil

		case childNode:
			s.cursor = &Location{Node: c.node}

		case childOutput:
			if n.budget == 0 && !force {
				return zero, yieldPending, nil
			}
			value, emitErr := c.value, c.err
			c.markYielded()
			n.remaining--
			if n.budget > 0 {
				n.budget--
				s.totalBudget--
			}
			emitted := s.cursor.Node
			s.cursor.Child++
			outputsEmittedCounter.Inc()

			if s.limit != nil {
				*s.limit--
				if *s.limit == 0 {
					s.clear()
					return value, yieldEmitted, emitErr
				}
				if s.totalBudget > *s.limit {
					n.expireBudget(s.totalBudget - *s.limit)
				}
			}
			if err := s.reconcileUp(emitted); err != nil {
				return zero, yieldPending, err
			}
			return value, yieldEmitted, emitErr

		default:
			return zero, yieldPending, fmt.Errorf("%w: unknown child kind %d", ErrInvariantViolation, c.kind)
		}
	}
}

// reconcileUp walks from the given node to the root, re-accounting each
// ancestor's view of its child's unfunded need and re-absorbing any budget
// that became surplus along the way. Surplus that not even the root can
// absorb falls out of circulation until the next scheduling pass re-grants
// it.
func (s *Stream[In, Out]) reconcileUp(idx NodeIndex) error {
	n, ok := s.arena[idx]
	if !ok {
		return fmt.Errorf("%w: no node at index %d", ErrInvariantViolation, idx)
	}
	surplus := n.takeSurplus()
	for n.parent != nil {
		p, ok := s.arena[n.parent.Node]
		if !ok {
			return fmt.Errorf("%w: no parent node at index %d", ErrInvariantViolation, n.parent.Node)
		}
		p.reconcileChild(n.parent.Child, n.budgetNeeded())
		surplus = p.addBudget(surplus)
		surplus += p.takeSurplus()
		n = p
	}
	s.totalBudget -= min(s.totalBudget, surplus)
	return nil
}
