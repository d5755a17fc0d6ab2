package stream

import "sync"

// Tracker holds a current value and notifies receivers of its updates. A new
// receiver gets the current value first, synchronously, then live updates.
//
// Each receiver sees values in the order they were set, each one once, even
// when values are set from other goroutines while it registers. A value set
// from inside a receiver reaches that same receiver after it returns.
type Tracker[T any] struct {
	mu        sync.Mutex
	value     T
	has       bool
	done      bool
	reason    error
	receivers []*trackerReceiver[T]
}

// NewTracker returns a tracker holding initial.
func NewTracker[T any](initial T) *Tracker[T] {
	return &Tracker[T]{value: initial, has: true}
}

// NewEmptyTracker returns a tracker without a value. Receivers only get
// values set after they registered.
func NewEmptyTracker[T any]() *Tracker[T] {
	return &Tracker[T]{}
}

// Get returns the current value and whether there is one.
func (t *Tracker[T]) Get() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.has
}

// Set replaces the current value and sends it to the receivers.
func (t *Tracker[T]) Set(value T) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.value = value
	t.has = true
	receivers := append([]*trackerReceiver[T](nil), t.receivers...)
	for _, r := range receivers {
		r.push(trackerItem[T]{value: value})
	}
	t.mu.Unlock()

	for _, r := range receivers {
		r.drain()
	}
}

// On implements OnEvent.
func (t *Tracker[T]) On(receive func(T)) *Supply {
	t.mu.Lock()
	if t.done {
		reason := t.reason
		t.mu.Unlock()
		return OffSupply(reason)
	}
	// The new receiver is drained by this call first, so the current value
	// is delivered before On returns.
	r := &trackerReceiver[T]{receive: receive, supply: NewSupply(), draining: true}
	if t.has {
		r.queue = append(r.queue, trackerItem[T]{value: t.value})
	}
	t.receivers = append(t.receivers, r)
	t.mu.Unlock()

	r.supply.WhenOff(func(error) { t.remove(r) })
	r.run()
	return r.supply
}

// Done completes the tracker: all receivers go off with the given reason
// once they got the values set before. Later values are ignored.
func (t *Tracker[T]) Done(reason error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.reason = reason
	receivers := t.receivers
	t.receivers = nil
	for _, r := range receivers {
		r.push(trackerItem[T]{end: true, reason: reason})
	}
	t.mu.Unlock()

	for _, r := range receivers {
		r.drain()
	}
}

// Receivers returns the number of registered receivers.
func (t *Tracker[T]) Receivers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.receivers)
}

func (t *Tracker[T]) remove(r *trackerReceiver[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, reg := range t.receivers {
		if reg == r {
			t.receivers = append(t.receivers[:i], t.receivers[i+1:]...)
			return
		}
	}
}

type trackerItem[T any] struct {
	value  T
	end    bool
	reason error
}

// trackerReceiver delivers queued items one at a time. Whoever finds it idle
// drains the queue; others only enqueue.
type trackerReceiver[T any] struct {
	receive func(T)
	supply  *Supply

	mu       sync.Mutex
	queue    []trackerItem[T]
	draining bool
}

func (r *trackerReceiver[T]) push(item trackerItem[T]) {
	r.mu.Lock()
	r.queue = append(r.queue, item)
	r.mu.Unlock()
}

func (r *trackerReceiver[T]) drain() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	r.mu.Unlock()
	r.run()
}

// run delivers until the queue is empty. The caller owns draining.
func (r *trackerReceiver[T]) run() {
	released := false
	defer func() {
		// A panicking receiver must not keep the queue locked.
		if !released {
			r.mu.Lock()
			r.draining = false
			r.mu.Unlock()
		}
	}()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			released = true
			r.mu.Unlock()
			return
		}
		item := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		switch {
		case item.end:
			r.supply.Off(item.reason)
		case !r.supply.IsOff():
			r.receive(item.value)
		}
	}
}
