package stream

import "sync"

// Supply is a cancellation handle shared between an event source and its
// receiver. Turning it off stops delivery and releases whatever the supply
// guards. The reason is nil when the supply completed normally.
type Supply struct {
	mu        sync.Mutex
	off       bool
	reason    error
	callbacks []*offCallback
	done      chan struct{}
}

type offCallback struct {
	fn func(reason error)
}

// NewSupply returns a supply that is on.
func NewSupply() *Supply {
	return &Supply{done: make(chan struct{})}
}

// OffSupply returns a supply that is already off with the given reason.
func OffSupply(reason error) *Supply {
	s := NewSupply()
	s.Off(reason)
	return s
}

// Off turns the supply off. Only the first call has an effect. Callbacks
// registered with WhenOff run on the calling goroutine, in registration order.
func (s *Supply) Off(reason error) {
	s.mu.Lock()
	if s.off {
		s.mu.Unlock()
		return
	}
	s.off = true
	s.reason = reason
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn(reason)
	}
}

// IsOff reports whether the supply has been turned off.
func (s *Supply) IsOff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.off
}

// Reason returns the reason the supply was turned off with.
func (s *Supply) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the supply is off.
func (s *Supply) Done() <-chan struct{} {
	return s.done
}

// WhenOff registers fn to be called when the supply goes off. If it is off
// already, fn is called immediately.
func (s *Supply) WhenOff(fn func(reason error)) *Supply {
	s.whenOff(fn)
	return s
}

// whenOff returns the registered callback, or nil when fn ran already.
func (s *Supply) whenOff(fn func(reason error)) *offCallback {
	s.mu.Lock()
	if s.off {
		reason := s.reason
		s.mu.Unlock()
		fn(reason)
		return nil
	}
	cb := &offCallback{fn: fn}
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
	return cb
}

func (s *Supply) drop(cb *offCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.callbacks {
		if c == cb {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return
		}
	}
}

// Dependents returns the number of callbacks waiting for the supply to go
// off.
func (s *Supply) Dependents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}

// Needs makes s go off, with the same reason, once other goes off.
func (s *Supply) Needs(other *Supply) *Supply {
	other.Cuts(s)
	return s
}

// Cuts makes other go off, with the same reason, once s goes off. The link
// is dropped when other goes off first, so a long-lived s can cut any number
// of short-lived supplies.
func (s *Supply) Cuts(other *Supply) *Supply {
	cb := s.whenOff(other.Off)
	if cb != nil {
		other.whenOff(func(error) { s.drop(cb) })
	}
	return s
}
