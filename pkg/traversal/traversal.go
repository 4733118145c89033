// Package traversal expands an implicit tree whose shape is discovered
// lazily: a set of weighted roots is grown by an asynchronous unfold
// operation that, for each input, yields final output values and further
// inputs to recurse on. Outputs are emitted in the exact order a sequential
// depth-first expansion would produce them, while unfold operations run
// concurrently up to a configurable bound and the number of
// discovered-but-unemitted outputs held in memory is budgeted.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"go.uber.org/zap"

	"github.com/unfoldio/traversal/pkg/logger"
)

var (
	// ErrTraversalDone is returned by Next once every output has been emitted.
	// It is sticky: all subsequent calls return it as well.
	ErrTraversalDone = errors.New("traversal done")

	// ErrInvariantViolation wraps bookkeeping inconsistencies. These indicate
	// a bug in the engine rather than a caller error and are always fatal to
	// the traversal.
	ErrInvariantViolation = errors.New("traversal invariant violation")
)

const (
	defaultScheduledMax = 10
	defaultQueuedMax    = 100
)

type itemKind uint8

const (
	itemOutput itemKind = iota
	itemRecurse
)

// Item is one element produced by an unfold operation: either a final output
// value or a further input to recurse on.
type Item[In, Out any] struct {
	kind   itemKind
	weight uint64
	input  In
	value  Out
}

// Output returns an Item carrying a final value.
func Output[In, Out any](value Out) Item[In, Out] {
	return Item[In, Out]{kind: itemOutput, value: value}
}

// Recurse returns an Item carrying a further input to expand. The weight is
// an estimate of how many outputs the subtree will eventually yield; it is
// used only for budget planning, never for correctness.
func Recurse[In, Out any](weight uint64, input In) Item[In, Out] {
	return Item[In, Out]{kind: itemRecurse, weight: weight, input: input}
}

// Root is one initial input together with its estimated output count.
type Root[In any] struct {
	Weight uint64
	Input  In
}

// UnfoldFunc expands one input into output values and further inputs. It may
// be called concurrently from multiple goroutines and must respect ctx.
type UnfoldFunc[In, Out any] func(ctx context.Context, input In) ([]Item[In, Out], error)

type options struct {
	scheduledMax int
	queuedMax    uint64
	logger       logger.Logger
}

// Option configures a Stream.
type Option func(*options)

// WithScheduledMax bounds the number of unfold operations in flight at once.
func WithScheduledMax(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.scheduledMax = n
		}
	}
}

// WithQueuedMax bounds the number of discovered-but-unemitted outputs held in
// memory. An unfold returning more items than its declared weight can cause a
// transient, self-correcting overshoot.
func WithQueuedMax(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.queuedMax = n
		}
	}
}

// WithLogger sets the logger used for scheduling diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Stream is a lazily produced, single-pass sequence of ordered outputs.
// All bookkeeping is owned by the goroutine calling Next; only the unfold
// operations themselves run concurrently.
type Stream[In, Out any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	unfold UnfoldFunc[In, Out]
	logger logger.Logger

	scheduledMax int
	queuedMax    uint64
	limit        *uint64

	arena       map[NodeIndex]*node[In, Out]
	nextIndex   NodeIndex
	totalBudget uint64
	cursor      *Location

	inflight    int
	overflow    *linkedlistqueue.Queue
	completions chan completion[In, Out]

	done bool
}

// New builds a Stream over the given roots. The unfold operations start
// lazily on the first call to Next. Stop must be called if the stream is
// abandoned before exhaustion.
func New[In, Out any](ctx context.Context, roots []Root[In], unfold UnfoldFunc[In, Out], opts ...Option) *Stream[In, Out] {
	return newStream(ctx, roots, unfold, nil, opts...)
}

// NewWithLimit is New with a hard cap on the total number of outputs. Once
// the cap is met all outstanding and future work is cancelled.
func NewWithLimit[In, Out any](ctx context.Context, roots []Root[In], unfold UnfoldFunc[In, Out], limit uint64, opts ...Option) *Stream[In, Out] {
	return newStream(ctx, roots, unfold, &limit, opts...)
}

func newStream[In, Out any](ctx context.Context, roots []Root[In], unfold UnfoldFunc[In, Out], limit *uint64, opts ...Option) *Stream[In, Out] {
	o := &options{
		scheduledMax: defaultScheduledMax,
		queuedMax:    defaultQueuedMax,
		logger:       logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[In, Out]{
		ctx:          ctx,
		cancel:       cancel,
		unfold:       unfold,
		logger:       o.logger,
		scheduledMax: o.scheduledMax,
		queuedMax:    o.queuedMax,
		limit:        limit,
		arena:        make(map[NodeIndex]*node[In, Out]),
		nextIndex:    rootIndex + 1,
		cursor:       &Location{Node: rootIndex},
		overflow:     linkedlistqueue.New(),
		completions:  make(chan completion[In, Out], o.scheduledMax),
	}

	root := &node[In, Out]{}
	for _, r := range roots {
		w := clampWeight(r.Weight, s.queuedMax)
		root.children = append(root.children, child[In, Out]{
			kind:   childUnscheduled,
			weight: w,
			input:  r.Input,
		})
		root.remaining += w
	}
	s.arena[rootIndex] = root

	if limit != nil && *limit == 0 {
		s.clear()
		s.done = true
	}
	return s
}

// clampWeight keeps declared weights positive and within the queue ceiling so
// every child is individually fundable.
func clampWeight(w, queuedMax uint64) uint64 {
	return min(max(w, 1), queuedMax)
}

// Next returns the next output in depth-first order. It blocks while the
// output at the front of the traversal is still being computed, respecting
// ctx for the wait only: cancelling ctx abandons the call, not the stream.
// An error returned by an unfold is surfaced here at its ordered position
// and terminates the stream.
func (s *Stream[In, Out]) Next(ctx context.Context) (Out, error) {
	var zero Out
	if s.done {
		return zero, ErrTraversalDone
	}

	for {
		out, outcome, err := s.yieldNext(false)
		if outcome != yieldPending || err != nil {
			return s.settle(out, outcome, err)
		}

		if err := s.scheduleNext(); err != nil {
			s.shutdown()
			return zero, err
		}

		out, outcome, err = s.yieldNext(false)
		if outcome != yieldPending || err != nil {
			return s.settle(out, outcome, err)
		}

		if s.inflight == 0 && s.overflow.Empty() {
			// Nothing is running and nothing is queued, yet the front of the
			// traversal is unfunded: weight underestimates elsewhere consumed
			// the whole queue budget. Force the front forward rather than
			// stall; ordering is unaffected, only the queue ceiling
			// transiently overshoots.
			out, outcome, err = s.yieldNext(true)
			if outcome != yieldPending || err != nil {
				return s.settle(out, outcome, err)
			}
			if s.forceStart() {
				continue
			}
			s.shutdown()
			return zero, fmt.Errorf("%w: stalled with no outstanding unfolds", ErrInvariantViolation)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-s.ctx.Done():
			s.done = true
			return zero, ErrTraversalDone
		case msg := <-s.completions:
			s.inflight--
			s.promoteQueued()
			if err := s.processUnfold(msg); err != nil {
				s.shutdown()
				return zero, err
			}
		}
	}
}

// forceStart launches the unfold the yield cursor is blocked on even though
// no budget covers it. Used only when the stream would otherwise stall with
// nothing in flight.
func (s *Stream[In, Out]) forceStart() bool {
	if s.cursor == nil {
		return false
	}
	n, ok := s.arena[s.cursor.Node]
	if !ok || s.cursor.Child >= len(n.children) {
		return false
	}
	c := &n.children[s.cursor.Child]
	if c.kind != childUnscheduled {
		return false
	}
	input := c.input
	var zero In
	c.input = zero
	c.kind = childPending
	s.logger.Debug("forcing unfold past exhausted budget",
		zap.Uint64("node", uint64(s.cursor.Node)),
		zap.Int("child", s.cursor.Child),
	)
	s.launch(Location{Node: s.cursor.Node, Child: s.cursor.Child}, input)
	return true
}

// settle translates a yield outcome into Next's return values, applying the
// terminate-after-error policy.
func (s *Stream[In, Out]) settle(out Out, outcome yieldOutcome, err error) (Out, error) {
	var zero Out
	if err != nil {
		s.shutdown()
		return zero, err
	}
	if outcome == yieldExhausted {
		s.shutdown()
		return zero, ErrTraversalDone
	}
	return out, nil
}

// Seq exposes the stream as a single-use range-over-func sequence. The
// stream is stopped when the loop ends, whether by exhaustion or by break.
func (s *Stream[In, Out]) Seq(ctx context.Context) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		defer s.Stop()
		for {
			out, err := s.Next(ctx)
			if errors.Is(err, ErrTraversalDone) {
				return
			}
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}

// Stop cancels all in-flight and queued unfold operations and releases the
// execution tree. It is safe to call multiple times.
func (s *Stream[In, Out]) Stop() {
	s.shutdown()
}

func (s *Stream[In, Out]) shutdown() {
	s.done = true
	s.clear()
}

// clear is the full, unconditional cancellation used when an output limit is
// met: the arena, the in-flight set, and the overflow queue are all dropped.
func (s *Stream[In, Out]) clear() {
	s.cancel()
	s.arena = make(map[NodeIndex]*node[In, Out])
	s.overflow.Clear()
	s.cursor = nil
	s.totalBudget = 0
	s.logger.Debug("traversal cleared", zap.Int("inflight", s.inflight))
}
