package traversal

// NodeIndex identifies one expanded node in the execution tree. Indexes are
// allocated monotonically; the root is always index 0.
type NodeIndex uint64

const rootIndex NodeIndex = 0

// Location addresses one ordered child slot of a node. It serves both as the
// resume cursor for yielding and as the address an in-flight unfold reports
// back when it completes.
type Location struct {
	Node  NodeIndex
	Child int
}

type childKind uint8

const (
	// childUnscheduled is a discovered input whose unfold has not been launched.
	childUnscheduled childKind = iota
	// childPending has an unfold in flight.
	childPending
	// childOutput is a final value (or unfold error) ready to emit.
	childOutput
	// childNode points at a further expansion stored in the arena.
	childNode
	// childYielded is fully consumed.
	childYielded
)

// child occupies one ordered slot of a node. Slot order is traversal order
// and is never rearranged.
type child[In, Out any] struct {
	kind   childKind
	weight uint64 // estimate for unscheduled/pending, unfunded need for node slots
	input  In     // set while unscheduled
	value  Out    // set for outputs
	err    error  // set when an unfold failed; emitted in place of a value
	node   NodeIndex
	// done marks a node slot whose subtree needs no further scheduling.
	done bool
}

func (c *child[In, Out]) markYielded() {
	var zeroIn In
	var zeroOut Out
	c.kind = childYielded
	c.weight = 0
	c.input = zeroIn
	c.value = zeroOut
	c.err = nil
	c.node = 0
	c.done = false
}

// node is one expanded level of the execution tree. The arena is the sole
// owner; parent and child references are plain indexes, never pointers into
// other nodes, so removal is always safe.
type node[In, Out any] struct {
	parent   *Location
	children []child[In, Out]

	// remaining is the estimated item count not yet accounted for: the sum of
	// unscheduled and pending weights, one per unemitted output, and the
	// unfunded need recorded on each node slot.
	remaining uint64

	// budget is the number of queue slots currently granted to this node.
	// budget never exceeds remaining between driver steps.
	budget uint64

	// expired is budget marked for reclamation after an output limit made it
	// provably unneeded.
	expired uint64

	// scheduleNext skips the fully-consumed prefix on repeated scheduling scans.
	scheduleNext int
}

// addBudget grants up to v units, capped so budget stays within remaining.
// The unconsumed surplus is returned for the caller to route elsewhere.
func (n *node[In, Out]) addBudget(v uint64) uint64 {
	if n.budget >= n.remaining {
		return v
	}
	take := min(v, n.remaining-n.budget)
	n.budget += take
	return v - take
}

// takeSurplus reclaims the portion of budget above remaining, if any.
func (n *node[In, Out]) takeSurplus() uint64 {
	if n.budget <= n.remaining {
		return 0
	}
	surplus := n.budget - n.remaining
	n.budget = n.remaining
	return surplus
}

// expireBudget marks v units as reclaimable once the node is next scanned.
func (n *node[In, Out]) expireBudget(v uint64) {
	n.expired += v
}

// takeExpired reclaims marked budget. Reclamation is capped by spendable so
// units already committed to pending unfolds or ready outputs stay in place.
func (n *node[In, Out]) takeExpired(spendable uint64) uint64 {
	take := min(n.expired, min(spendable, n.budget))
	n.budget -= take
	n.expired -= take
	return take
}

// budgetNeeded reports how much more budget this node could usefully absorb.
func (n *node[In, Out]) budgetNeeded() uint64 {
	if n.budget >= n.remaining {
		return 0
	}
	return n.remaining - n.budget
}

// reconcileChild re-accounts the node slot at idx to the child's current
// unfunded need. Overestimates are cancelled out of remaining; underestimates
// (an unfold produced more than was reserved for it) grow remaining so the
// extra work can be funded through this node on later scheduling passes.
func (n *node[In, Out]) reconcileChild(idx int, needed uint64) {
	c := &n.children[idx]
	if c.kind != childNode {
		return
	}
	if needed >= c.weight {
		n.remaining += needed - c.weight
	} else {
		n.remaining -= c.weight - needed
	}
	c.weight = needed
}

// childComplete replaces a fully-consumed node slot with a yielded marker,
// folds the child's leftover budget into this node, and drops the child's
// final weight from remaining.
func (n *node[In, Out]) childComplete(idx int, surplus uint64) {
	c := &n.children[idx]
	n.remaining -= min(n.remaining, c.weight)
	n.budget += surplus
	c.markYielded()
}
