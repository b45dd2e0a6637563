package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateFunc adapts a plain predicate into a Gate.
type gateFunc func(Event) bool

func (g gateFunc) Relevant(e Event) bool { return g(e) }

var acceptAll = gateFunc(func(Event) bool { return true })

func event(path string) Event {
	return Event{Paths: []string{path}}
}

func TestBurstYieldsOneTrigger(t *testing.T) {
	events := make(chan Event, 16)
	d := NewDebouncer(events, acceptAll, 50*time.Millisecond)

	events <- event("first")
	events <- event("second")
	events <- event("third")
	events <- event("fourth")

	trigger, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, trigger.Paths, "trigger is the first accepted event")

	// The rest of the burst was drained; nothing else may trigger
	done := make(chan Event, 1)
	go func() {
		e, err := d.Next()
		if err == nil {
			done <- e
		}
	}()
	select {
	case e := <-done:
		t.Fatalf("unexpected second trigger for %v", e.Paths)
	case <-time.After(150 * time.Millisecond):
	}
	close(events)
}

func TestRejectedEventsNeverStartWindow(t *testing.T) {
	events := make(chan Event, 16)
	rejectAll := gateFunc(func(Event) bool { return false })
	d := NewDebouncer(events, rejectAll, 10*time.Millisecond)

	events <- event("a.log")
	events <- event("b.log")
	close(events)

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrEventSourceClosed, "rejected events must not produce a trigger")
}

func TestRejectedEventSkippedAcceptedReturned(t *testing.T) {
	events := make(chan Event, 16)
	gate := gateFunc(func(e Event) bool { return e.Paths[0] != "skip" })
	d := NewDebouncer(events, gate, 10*time.Millisecond)

	events <- event("skip")
	events <- event("keep")

	trigger, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, trigger.Paths)
	close(events)
}

func TestWindowAnchoredToFirstAcceptedEvent(t *testing.T) {
	events := make(chan Event, 256)
	d := NewDebouncer(events, acceptAll, 100*time.Millisecond)

	// Keep feeding events past the window; a window measured from the
	// last event would never elapse
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case events <- event("churn"):
				default:
				}
			case <-stop:
				return
			}
		}
	}()

	start := time.Now()
	_, err := d.Next()
	close(stop)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "window must not be extended by later events")
}

func TestClosedChannelIsAnError(t *testing.T) {
	events := make(chan Event)
	close(events)

	d := NewDebouncer(events, acceptAll, 10*time.Millisecond)
	_, err := d.Next()
	assert.ErrorIs(t, err, ErrEventSourceClosed)
}

func TestClosedChannelDuringDrain(t *testing.T) {
	events := make(chan Event, 4)
	d := NewDebouncer(events, acceptAll, 10*time.Millisecond)

	events <- event("trigger")
	events <- event("buffered")
	close(events)

	// The trigger was already accepted before the close was observed;
	// it is still returned
	trigger, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"trigger"}, trigger.Paths)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrEventSourceClosed)
}

func TestDefaultQuiescenceApplied(t *testing.T) {
	d := NewDebouncer(make(chan Event), acceptAll, 0)
	assert.Equal(t, DefaultQuiescence, d.quiescence)
}
