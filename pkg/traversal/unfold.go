package traversal

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/unfoldio/traversal/internal/concurrency"
)

var tracer = otel.Tracer("pkg/traversal")

var (
	unfoldsStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "traversal_unfolds_started_count",
		Help: "The total number of unfold operations launched.",
	})

	inflightUnfoldsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "traversal_inflight_unfolds",
		Help: "The number of unfold operations currently in flight.",
	})
)

// launchItem is an unfold whose budget was granted but whose slot in the
// bounded in-flight set was not yet free.
type launchItem[In any] struct {
	loc   Location
	input In
}

// completion is the result an unfold goroutine reports back, tagged with the
// slot it resolves.
type completion[In, Out any] struct {
	loc   Location
	items []Item[In, Out]
	err   error
}

// launch starts the unfold for the given slot, or queues it when the
// in-flight set is full. The overflow queue is unbounded and FIFO.
func (s *Stream[In, Out]) launch(loc Location, input In) {
	if s.inflight >= s.scheduledMax {
		s.overflow.Enqueue(launchItem[In]{loc: loc, input: input})
		return
	}
	s.spawn(loc, input)
}

// promoteQueued moves one queued unfold into the slot a completion just
// freed.
func (s *Stream[In, Out]) promoteQueued() {
	if v, ok := s.overflow.Dequeue(); ok {
		item := v.(launchItem[In])
		s.spawn(item.loc, item.input)
	}
}

func (s *Stream[In, Out]) spawn(loc Location, input In) {
	s.inflight++
	unfoldsStartedCounter.Inc()
	inflightUnfoldsGauge.Inc()
	s.logger.Debug("launching unfold",
		zap.Uint64("node", uint64(loc.Node)),
		zap.Int("child", loc.Child),
	)

	go func() {
		defer inflightUnfoldsGauge.Dec()
		ctx, span := tracer.Start(s.ctx, "traversal.unfold")
		defer span.End()

		var items []Item[In, Out]
		var err error
		recovered := panics.Try(func() {
			items, err = s.unfold(ctx, input)
		})
		if recovered != nil {
			err = recovered.AsError()
		}
		if err != nil {
			span.RecordError(err)
		}
		concurrency.TrySendThroughChannel(s.ctx, completion[In, Out]{loc: loc, items: items, err: err}, s.completions)
	}()
}

// processUnfold folds a completed unfold back into the execution tree. The
// produced items become a fresh node inserted at the slot the unfold was
// launched from; the reservation made at launch is reconciled against what
// the unfold actually produced.
func (s *Stream[In, Out]) processUnfold(msg completion[In, Out]) error {
	if s.done || len(s.arena) == 0 {
		return nil
	}
	p, ok := s.arena[msg.loc.Node]
	if !ok {
		return fmt.Errorf("%w: no node at index %d", ErrInvariantViolation, msg.loc.Node)
	}
	if msg.loc.Child >= len(p.children) {
		return fmt.Errorf("%w: no child slot %d at node %d", ErrInvariantViolation, msg.loc.Child, msg.loc.Node)
	}
	slot := &p.children[msg.loc.Child]
	if slot.kind != childPending {
		return fmt.Errorf("%w: unfold resolved a slot that is not pending", ErrInvariantViolation)
	}
	reserved := slot.weight

	var children []child[In, Out]
	var total uint64
	if msg.err != nil {
		// The failure is emitted at the slot's ordered position.
		children = []child[In, Out]{{kind: childOutput, err: msg.err}}
		total = 1
	} else {
		for _, item := range msg.items {
			switch item.kind {
			case itemOutput:
				children = append(children, child[In, Out]{kind: childOutput, value: item.value})
				total++
			case itemRecurse:
				w := clampWeight(item.weight, s.queuedMax)
				children = append(children, child[In, Out]{kind: childUnscheduled, weight: w, input: item.input})
				total += w
			}
		}
	}

	if reserved > p.remaining {
		return fmt.Errorf("%w: pending reservation %d exceeds remaining weight %d", ErrInvariantViolation, reserved, p.remaining)
	}

	if total == 0 {
		// Nothing came back: the slot is consumed in place.
		slot.markYielded()
		p.remaining -= reserved
		return s.reconcileUp(msg.loc.Node)
	}

	// The new node receives at most what was reserved for it and never more
	// than the parent holds: a force-started unfold's reservation may exceed
	// the budget on hand. Whatever stays unfunded is accounted on the slot
	// and funded on later scheduling passes.
	granted := min(reserved, total, p.budget)
	p.budget -= granted
	p.remaining -= reserved
	unfunded := total - granted
	p.remaining += unfunded

	idx := s.nextIndex
	s.nextIndex++
	parentLoc := msg.loc
	s.arena[idx] = &node[In, Out]{
		parent:    &parentLoc,
		children:  children,
		remaining: total,
		budget:    granted,
	}

	var zeroIn In
	slot.kind = childNode
	slot.weight = unfunded
	slot.node = idx
	slot.input = zeroIn

	return s.reconcileUp(idx)
}
