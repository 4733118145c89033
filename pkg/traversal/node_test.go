package traversal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddBudget(t *testing.T) {
	t.Run("should_absorb_up_to_remaining", func(t *testing.T) {
		n := &node[string, string]{remaining: 5}
		surplus := n.addBudget(3)
		require.Zero(t, surplus)
		require.Equal(t, uint64(3), n.budget)
	})

	t.Run("should_return_surplus_beyond_remaining", func(t *testing.T) {
		n := &node[string, string]{remaining: 5, budget: 4}
		surplus := n.addBudget(3)
		require.Equal(t, uint64(2), surplus)
		require.Equal(t, uint64(5), n.budget)
	})

	t.Run("should_reject_everything_when_saturated", func(t *testing.T) {
		n := &node[string, string]{remaining: 2, budget: 2}
		surplus := n.addBudget(7)
		require.Equal(t, uint64(7), surplus)
		require.Equal(t, uint64(2), n.budget)
	})
}

func TestTakeSurplus(t *testing.T) {
	t.Run("should_return_zero_within_remaining", func(t *testing.T) {
		n := &node[string, string]{remaining: 3, budget: 3}
		require.Zero(t, n.takeSurplus())
		require.Equal(t, uint64(3), n.budget)
	})

	t.Run("should_strip_budget_above_remaining", func(t *testing.T) {
		n := &node[string, string]{remaining: 1, budget: 4}
		require.Equal(t, uint64(3), n.takeSurplus())
		require.Equal(t, uint64(1), n.budget)
	})
}

func TestTakeExpired(t *testing.T) {
	t.Run("should_cap_reclamation_by_spendable", func(t *testing.T) {
		n := &node[string, string]{remaining: 10, budget: 6}
		n.expireBudget(5)
		require.Equal(t, uint64(2), n.takeExpired(2))
		require.Equal(t, uint64(4), n.budget)
		require.Equal(t, uint64(3), n.expired)
	})

	t.Run("should_cap_reclamation_by_budget", func(t *testing.T) {
		n := &node[string, string]{remaining: 10, budget: 1}
		n.expireBudget(5)
		require.Equal(t, uint64(1), n.takeExpired(8))
		require.Zero(t, n.budget)
	})
}

func TestBudgetNeeded(t *testing.T) {
	n := &node[string, string]{remaining: 4, budget: 1}
	require.Equal(t, uint64(3), n.budgetNeeded())

	n.budget = 4
	require.Zero(t, n.budgetNeeded())
}

func TestReconcileChild(t *testing.T) {
	t.Run("should_shrink_remaining_when_need_drops", func(t *testing.T) {
		n := &node[string, string]{
			remaining: 6,
			children:  []child[string, string]{{kind: childNode, weight: 4}},
		}
		n.reconcileChild(0, 1)
		require.Equal(t, uint64(3), n.remaining)
		require.Equal(t, uint64(1), n.children[0].weight)
	})

	t.Run("should_grow_remaining_when_need_rises", func(t *testing.T) {
		n := &node[string, string]{
			remaining: 6,
			children:  []child[string, string]{{kind: childNode, weight: 1}},
		}
		n.reconcileChild(0, 5)
		require.Equal(t, uint64(10), n.remaining)
		require.Equal(t, uint64(5), n.children[0].weight)
	})

	t.Run("should_ignore_slots_that_are_not_nodes", func(t *testing.T) {
		n := &node[string, string]{
			remaining: 6,
			children:  []child[string, string]{{kind: childPending, weight: 2}},
		}
		n.reconcileChild(0, 0)
		require.Equal(t, uint64(6), n.remaining)
		require.Equal(t, uint64(2), n.children[0].weight)
	})
}

func TestChildComplete(t *testing.T) {
	n := &node[string, string]{
		remaining: 3,
		budget:    1,
		children:  []child[string, string]{{kind: childNode, weight: 2, node: 7}},
	}
	n.childComplete(0, 1)
	require.Equal(t, uint64(1), n.remaining)
	require.Equal(t, uint64(2), n.budget)
	require.Equal(t, childYielded, n.children[0].kind)
	require.Zero(t, n.children[0].node)
}
