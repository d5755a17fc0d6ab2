// Package stream implements the push-based event streams the navigation
// core is built on: a cancellable Supply per receiver, an Emitter that fans
// events out, a Tracker that replays its current value to new receivers, and
// a Serializer that keeps state mutation inside a single turn.
package stream

import "sync"

// OnEvent is an event source. Each call to On registers a receiver and
// returns the supply controlling that registration.
type OnEvent[T any] interface {
	On(receive func(T)) *Supply
}

// OnEventFunc adapts a function to OnEvent.
type OnEventFunc[T any] func(receive func(T)) *Supply

// On implements OnEvent.
func (f OnEventFunc[T]) On(receive func(T)) *Supply {
	return f(receive)
}

// Thru returns a source delivering fn(event) for every event of on.
func Thru[T, U any](on OnEvent[T], fn func(T) U) OnEvent[U] {
	return OnEventFunc[U](func(receive func(U)) *Supply {
		return on.On(func(event T) {
			receive(fn(event))
		})
	})
}

// Of returns a source that delivers the given events to each receiver and
// then completes.
func Of[T any](events ...T) OnEvent[T] {
	return OnEventFunc[T](func(receive func(T)) *Supply {
		supply := NewSupply()
		for _, event := range events {
			if supply.IsOff() {
				break
			}
			receive(event)
		}
		supply.Off(nil)
		return supply
	})
}

type registration[T any] struct {
	receive func(T)
	supply  *Supply
}

// Emitter sends events to every registered receiver.
type Emitter[T any] struct {
	mu        sync.Mutex
	receivers []*registration[T]
	done      bool
	reason    error
}

// On registers a receiver. Registering on a finished emitter returns a supply
// that is already off.
func (e *Emitter[T]) On(receive func(T)) *Supply {
	e.mu.Lock()
	if e.done {
		reason := e.reason
		e.mu.Unlock()
		return OffSupply(reason)
	}
	reg := &registration[T]{receive: receive, supply: NewSupply()}
	e.receivers = append(e.receivers, reg)
	e.mu.Unlock()

	reg.supply.WhenOff(func(error) {
		e.remove(reg)
	})
	return reg.supply
}

// Send delivers the event to the receivers registered at the time of the call
// whose supplies are still on.
func (e *Emitter[T]) Send(event T) {
	for _, reg := range e.snapshot() {
		if !reg.supply.IsOff() {
			reg.receive(event)
		}
	}
}

// Done turns off every receiver supply with the given reason. Later
// registrations are refused.
func (e *Emitter[T]) Done(reason error) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.reason = reason
	receivers := e.receivers
	e.receivers = nil
	e.mu.Unlock()

	for _, reg := range receivers {
		reg.supply.Off(reason)
	}
}

// Size returns the number of registered receivers.
func (e *Emitter[T]) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.receivers)
}

func (e *Emitter[T]) snapshot() []*registration[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*registration[T], len(e.receivers))
	copy(out, e.receivers)
	return out
}

func (e *Emitter[T]) remove(reg *registration[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.receivers {
		if r == reg {
			e.receivers = append(e.receivers[:i], e.receivers[i+1:]...)
			return
		}
	}
}
