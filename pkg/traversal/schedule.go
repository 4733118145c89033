package traversal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/unfoldio/traversal/internal/stack"
)

// scanFrame mirrors what a recursive scheduling call would keep on the call
// stack: the node being scanned, its resume position, and the budget still
// spendable at this level. Frames live on an explicit stack so traversal
// depth is bounded by the heap, not the goroutine stack.
type scanFrame[In, Out any] struct {
	idx NodeIndex
	n   *node[In, Out]
	pos int

	// spendable is the portion of the node's budget not committed to pending
	// unfolds or ready outputs, recounted as the scan walks the children.
	spendable uint64

	// outstanding records that an unscheduled or pending child remains.
	outstanding bool
	// activeNode records that a child subtree still needs scheduling passes.
	activeNode bool

	parent *scanFrame[In, Out]
	slot   int
}

// scheduleNext performs one scheduling pass: it grants the root whatever
// capacity the queue ceiling (and remaining output limit) still allows, then
// walks the execution tree depth-first, launching unfolds for unscheduled
// children and moving budget down into child nodes that need it.
func (s *Stream[In, Out]) scheduleNext() error {
	if s.done || len(s.arena) == 0 {
		return nil
	}
	root, ok := s.arena[rootIndex]
	if !ok {
		return fmt.Errorf("%w: no root node", ErrInvariantViolation)
	}

	target := s.queuedMax
	if s.limit != nil {
		target = min(target, *s.limit)
	}
	if target > s.totalBudget {
		fresh := target - s.totalBudget
		surplus := root.addBudget(fresh)
		s.totalBudget += fresh - surplus
	}

	frames := stack.Push[*scanFrame[In, Out]](nil, s.newScanFrame(root, rootIndex, nil, 0))
	for frames != nil {
		f := frames.Value
		n := f.n
		descended := false

		for f.pos < len(n.children) {
			c := &n.children[f.pos]
			switch c.kind {
			case childYielded:
				if f.pos == n.scheduleNext {
					n.scheduleNext++
				}
				f.pos++

			case childOutput:
				if f.spendable > 0 {
					f.spendable--
				}
				f.pos++

			case childPending:
				f.spendable -= min(f.spendable, c.weight)
				f.outstanding = true
				f.pos++

			case childUnscheduled:
				f.outstanding = true
				if f.spendable >= c.weight {
					f.spendable -= c.weight
					input := c.input
					var zero In
					c.input = zero
					c.kind = childPending
					s.launch(Location{Node: f.idx, Child: f.pos}, input)
				}
				f.pos++

			case childNode:
				if c.done {
					f.pos++
					continue
				}
				f.activeNode = true
				cn, ok := s.arena[c.node]
				if !ok {
					return fmt.Errorf("%w: no node at index %d", ErrInvariantViolation, c.node)
				}
				give := min(f.spendable, cn.budgetNeeded())
				if give > 0 {
					if give > c.weight || give > n.budget {
						return fmt.Errorf("%w: transferring %d beyond slot weight %d or budget %d", ErrInvariantViolation, give, c.weight, n.budget)
					}
					n.budget -= give
					n.remaining -= give
					c.weight -= give
					f.spendable -= give
					if leftover := cn.addBudget(give); leftover != 0 {
						return fmt.Errorf("%w: child node %d rejected %d of a needed transfer", ErrInvariantViolation, c.node, leftover)
					}
				}
				slot := f.pos
				f.pos++
				frames = stack.Push(frames, s.newScanFrame(cn, c.node, f, slot))
				descended = true
			}
			if descended {
				break
			}
		}
		if descended {
			continue
		}

		_, frames = stack.Pop(frames)
		if !f.outstanding && !f.activeNode && f.n.budgetNeeded() == 0 && f.parent != nil {
			// Nothing below this node will ever need scheduling again.
			f.parent.n.children[f.slot].done = true
		}
	}
	return nil
}

// newScanFrame reclaims any surplus or expired budget held by the node before
// computing how much the scan may spend at this level. Reclaimed units leave
// circulation and come back through the root grant on the next pass.
func (s *Stream[In, Out]) newScanFrame(n *node[In, Out], idx NodeIndex, parent *scanFrame[In, Out], slot int) *scanFrame[In, Out] {
	if surplus := n.takeSurplus(); surplus > 0 {
		s.totalBudget -= min(s.totalBudget, surplus)
	}
	spendable := n.budget
	if n.expired > 0 {
		take := n.takeExpired(spendable)
		spendable -= take
		s.totalBudget -= min(s.totalBudget, take)
		s.logger.Debug("reclaimed expired budget",
			zap.Uint64("node", uint64(idx)),
			zap.Uint64("reclaimed", take),
		)
	}
	return &scanFrame[In, Out]{
		idx:       idx,
		n:         n,
		pos:       n.scheduleNext,
		spendable: spendable,
		parent:    parent,
		slot:      slot,
	}
}
