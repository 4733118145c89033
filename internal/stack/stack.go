package stack

// Stack is a linked-list stack. Push and Pop return the new head rather than
// mutating in place, so a frame can be kept live while deeper frames come and
// go above it.
type Stack[T any] struct {
	Value T
	next  *Stack[T]
}

// Push places value on top of stack and returns the new top. A nil stack is
// the empty stack.
func Push[T any](stack *Stack[T], value T) *Stack[T] {
	return &Stack[T]{Value: value, next: stack}
}

// Pop returns the top value and the remainder of the stack.
func Pop[T any](stack *Stack[T]) (T, *Stack[T]) {
	return stack.Value, stack.next
}
