package stack

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStack(t *testing.T) {
	t.Run("should_push_without_modifying_the_original", func(t *testing.T) {
		first := Push[int](nil, 1)
		second := Push(first, 2)

		require.Equal(t, 1, first.Value)
		require.Equal(t, 2, second.Value)
	})

	t.Run("should_pop_back_to_the_previous_head", func(t *testing.T) {
		st := Push[string](nil, "outer")
		st = Push(st, "inner")

		val, st := Pop(st)
		require.Equal(t, "inner", val)
		require.Equal(t, "outer", st.Value)

		val, st = Pop(st)
		require.Equal(t, "outer", val)
		require.Nil(t, st)
	})

	t.Run("should_panic_popping_the_empty_stack", func(t *testing.T) {
		require.Panics(t, func() {
			Pop[string](nil)
		})
	})
}
