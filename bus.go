package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BusHandler receives every posted fact of the type it subscribed to.
type BusHandler func(ctx context.Context, f Fact) Outcome

// Subscription declares one handler of a subscriber.
type Subscription struct {
	Type     FactType
	Priority int
	Handler  BusHandler
}

// Subscriber is anything that can list its handlers. Subscribers are compared
// by identity, so they are normally pointers.
type Subscriber interface {
	Subscriptions() []Subscription
}

type busEntry struct {
	sub         Subscriber
	subPriority int
	priority    int
	handler     BusHandler
}

// Bus is a priority-ordered publish/subscribe bus with a single dispatch
// goroutine. Post never waits for handlers.
//
// Handlers run while the registry is read-locked, so they must not call
// Register or Unregister themselves.
type Bus struct {
	mu       sync.RWMutex
	handlers map[FactType][]busEntry
	subs     map[Subscriber]struct{}

	qmu    sync.Mutex
	queue  []Fact
	closed bool
	notify chan struct{}

	pending atomic.Int64
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[FactType][]busEntry),
		subs:     make(map[Subscriber]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

// Register adds every handler of sub. Registering a subscriber that is already
// registered does nothing, whatever the priority.
func (b *Bus) Register(sub Subscriber, priority int) error {
	if sub == nil {
		return ErrInvalidSubscriber
	}
	if !hashable(sub) {
		return fmt.Errorf("%w: %T is not comparable", ErrInvalidSubscriber, sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		return nil
	}

	decl := sub.Subscriptions()
	seen := make(map[FactType]bool, len(decl))
	for _, s := range decl {
		if s.Handler == nil {
			return fmt.Errorf("%w: %T has a nil handler for %s", ErrInvalidSubscriber, sub, s.Type)
		}
		if seen[s.Type] {
			return fmt.Errorf("%w: %T, %s", ErrDuplicateHandler, sub, s.Type)
		}
		seen[s.Type] = true
	}

	b.subs[sub] = struct{}{}
	for _, s := range decl {
		list := append(b.handlers[s.Type], busEntry{
			sub:         sub,
			subPriority: priority,
			priority:    s.Priority,
			handler:     s.Handler,
		})
		// Stable: equal priorities keep registration order.
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].subPriority != list[j].subPriority {
				return list[i].subPriority > list[j].subPriority
			}
			return list[i].priority > list[j].priority
		})
		b.handlers[s.Type] = list
	}
	return nil
}

// Unregister removes all handlers of sub. It reports whether sub was registered.
func (b *Bus) Unregister(sub Subscriber) bool {
	if !hashable(sub) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return false
	}
	delete(b.subs, sub)

	for typ, list := range b.handlers {
		kept := make([]busEntry, 0, len(list))
		for _, e := range list {
			if e.sub != sub {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, typ)
		} else {
			b.handlers[typ] = kept
		}
	}
	return true
}

func (b *Bus) Registered(sub Subscriber) bool {
	if !hashable(sub) {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[sub]
	return ok
}

// HandlerCount returns the number of handlers registered for typ.
func (b *Bus) HandlerCount(typ FactType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[typ])
}

// hashable reports whether sub can be used as a map key. The dynamic value is
// checked, so a struct holding a slice in an interface field is rejected.
func hashable(sub Subscriber) bool {
	return sub != nil && reflect.ValueOf(sub).Comparable()
}

// Post queues f for delivery and returns immediately.
func (b *Bus) Post(f Fact) error {
	b.qmu.Lock()
	if b.closed {
		b.qmu.Unlock()
		return ErrBusClosed
	}
	b.queue = append(b.queue, f)
	b.pending.Add(1)
	b.qmu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close rejects further posts. Run delivers what is already queued, then returns.
func (b *Bus) Close() {
	b.qmu.Lock()
	b.closed = true
	b.qmu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of facts waiting for dispatch.
func (b *Bus) Len() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

// Flush waits until every posted fact has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Run is the dispatch loop. It returns when ctx is cancelled or the bus is
// closed and drained.
func (b *Bus) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		f, ok := b.next(ctx)
		if !ok {
			return
		}
		b.dispatch(context.WithoutCancel(ctx), f)
		b.pending.Add(-1)
	}
}

func (b *Bus) next(ctx context.Context) (Fact, bool) {
	for {
		b.qmu.Lock()
		if len(b.queue) > 0 {
			f := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.qmu.Unlock()
			return f, true
		}
		closed := b.closed
		b.qmu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-b.notify:
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, f Fact) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range b.handlers[f.Type()] {
		out := callBus(ctx, e.handler, f)
		if out.Kind != OutcomeFailure {
			continue
		}
		var pe *PanicError
		if errors.As(out.Err, &pe) {
			log.Printf("bus: %T panicked on %s (%s): %v\n%s", e.sub, f.Type(), f.ID(), pe.Value, pe.Stack)
			continue
		}
		log.Printf("bus: %T failed on %s (%s): %v", e.sub, f.Type(), f.ID(), out.Err)
	}
}

func callBus(ctx context.Context, h BusHandler, f Fact) (out Outcome) {
	defer recoverOutcome(&out)
	return h(ctx, f)
}
