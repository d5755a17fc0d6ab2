package stream

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSupply(t *testing.T) {
	t.Run("off runs callbacks once in order", func(t *testing.T) {
		s := NewSupply()
		var calls []string
		s.WhenOff(func(error) { calls = append(calls, "a") })
		s.WhenOff(func(error) { calls = append(calls, "b") })

		reason := errors.New("stop")
		s.Off(reason)
		s.Off(errors.New("again"))

		assert.Equal(t, []string{"a", "b"}, calls)
		assert.True(t, s.IsOff())
		assert.Same(t, reason, s.Reason())
		select {
		case <-s.Done():
		default:
			t.Fatal("expected done channel to be closed")
		}
	})

	t.Run("when off on finished supply calls immediately", func(t *testing.T) {
		s := OffSupply(nil)
		called := false
		s.WhenOff(func(reason error) {
			called = true
			assert.NoError(t, reason)
		})
		assert.True(t, called)
	})

	t.Run("needs and cuts propagate reason", func(t *testing.T) {
		parent := NewSupply()
		child := NewSupply().Needs(parent)
		cut := NewSupply()
		child.Cuts(cut)

		reason := errors.New("parent gone")
		parent.Off(reason)

		assert.ErrorIs(t, child.Reason(), reason)
		assert.ErrorIs(t, cut.Reason(), reason)
	})
}

func TestEmitter(t *testing.T) {
	var e Emitter[int]
	var got []int
	sup := e.On(func(v int) { got = append(got, v) })

	e.Send(1)
	e.Send(2)
	sup.Off(nil)
	e.Send(3)

	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 0, e.Size())

	t.Run("done refuses new receivers", func(t *testing.T) {
		var done Emitter[string]
		first := done.On(func(string) {})
		reason := errors.New("finished")
		done.Done(reason)

		assert.ErrorIs(t, first.Reason(), reason)
		late := done.On(func(string) { t.Fatal("unexpected event") })
		assert.True(t, late.IsOff())
		assert.ErrorIs(t, late.Reason(), reason)
	})
}

func TestTrackerReplaysCurrentValue(t *testing.T) {
	tr := NewTracker("a")
	var got []string
	tr.On(func(v string) { got = append(got, v) })
	tr.Set("b")

	assert.Equal(t, []string{"a", "b"}, got)

	v, ok := tr.Get()
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	empty := NewEmptyTracker[int]()
	var ints []int
	empty.On(func(v int) { ints = append(ints, v) })
	assert.Empty(t, ints)
	empty.Set(7)
	assert.Equal(t, []int{7}, ints)
}

func TestThruAndOf(t *testing.T) {
	var got []int
	sup := Thru[string, int](Of("a", "bb", "ccc"), func(s string) int { return len(s) }).On(func(n int) {
		got = append(got, n)
	})

	assert.Equal(t, []int{1, 2, 3}, got)
	assert.True(t, sup.IsOff())
	assert.NoError(t, sup.Reason())
}

func TestSerializerRunsReentrantTasksAfterCurrent(t *testing.T) {
	var s Serializer
	var order []string

	s.Run(func() {
		order = append(order, "outer-start")
		s.Run(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestSerializerRecoversAfterPanic(t *testing.T) {
	var s Serializer

	require.Panics(t, func() {
		s.Run(func() { panic("boom") })
	})

	ran := false
	s.Run(func() { ran = true })
	assert.True(t, ran)
}

func TestManualSchedulerFlushesNestedTasks(t *testing.T) {
	var m ManualScheduler
	var order []int
	m.Schedule(func() {
		order = append(order, 1)
		m.Schedule(func() { order = append(order, 2) })
	})

	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 2, m.Flush())
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, m.Pending())
}

func TestSupplyCutsDropsLinkToFinishedSupply(t *testing.T) {
	parent := NewSupply()
	for i := 0; i < 100; i++ {
		child := NewSupply()
		parent.Cuts(child)
		child.Off(nil)
	}
	assert.Equal(t, 0, parent.Dependents())

	live := NewSupply()
	parent.Cuts(live)
	parent.Cuts(OffSupply(nil))
	assert.Equal(t, 1, parent.Dependents())

	reason := errors.New("parent gone")
	parent.Off(reason)
	assert.ErrorIs(t, live.Reason(), reason)

	child := NewSupply().Needs(parent)
	assert.ErrorIs(t, child.Reason(), reason)
}

func TestTrackerOrderingForReentrantSet(t *testing.T) {
	tr := NewTracker(0)
	var first, second []int
	tr.On(func(v int) {
		first = append(first, v)
		if v == 1 {
			tr.Set(2)
			assert.Equal(t, []int{0, 1}, first, "nested value arrives after the current one")
		}
	})
	tr.On(func(v int) { second = append(second, v) })

	tr.Set(1)

	assert.Equal(t, []int{0, 1, 2}, first)
	assert.Equal(t, []int{0, 1, 2}, second)
	v, _ := tr.Get()
	assert.Equal(t, 2, v)
}

func TestTrackerDoneDeliversPendingValuesFirst(t *testing.T) {
	tr := NewEmptyTracker[string]()
	reason := errors.New("finished")
	var got []string
	var sup *Supply
	sup = tr.On(func(v string) {
		got = append(got, v)
		if v == "loading" {
			tr.Set("ok")
			tr.Done(reason)
			assert.False(t, sup.IsOff())
		}
	})

	tr.Set("loading")

	assert.Equal(t, []string{"loading", "ok"}, got)
	assert.ErrorIs(t, sup.Reason(), reason)
	assert.Equal(t, 0, tr.Receivers())

	late := tr.On(func(string) { t.Error("no delivery after done") })
	assert.ErrorIs(t, late.Reason(), reason)
}

func TestTrackerConcurrentSetAndOn(t *testing.T) {
	const values = 2000
	tr := NewTracker(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= values; i++ {
			tr.Set(i)
		}
	}()

	for r := 0; r < 50; r++ {
		var (
			mu  sync.Mutex
			got []int
		)
		sup := tr.On(func(v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})

		mu.Lock()
		require.NotEmpty(t, got, "current value is delivered synchronously")
		mu.Unlock()
		sup.Off(nil)

		mu.Lock()
		for i := 1; i < len(got); i++ {
			require.Greater(t, got[i], got[i-1], "values arrive once and in order")
		}
		mu.Unlock()
	}
	wg.Wait()
}
