package watch

import (
	"errors"
	"time"

	"watchrun/internal/log"
)

// DefaultQuiescence is how long a burst of related events is absorbed
// before the first accepted event becomes a trigger. Editors routinely
// produce several notifications per logical save (temp file, rename,
// metadata touch); one quiet period maps them all to one run.
const DefaultQuiescence = 250 * time.Millisecond

// ErrEventSourceClosed is returned by Next once the event channel has
// been closed. The loop cannot make progress without events.
var ErrEventSourceClosed = errors.New("event source closed")

// Debouncer collapses bursts of raw events into one trigger per quiet
// period. The quiescence window is anchored to the first accepted event,
// not the last, and everything buffered when it elapses is discarded.
// An event arriving after the drain starts a fresh cycle, so a burst
// spanning the drain boundary triggers twice.
type Debouncer struct {
	events     <-chan Event
	gate       Gate
	quiescence time.Duration
}

// NewDebouncer creates a debouncer over the given event channel. A
// non-positive quiescence falls back to DefaultQuiescence.
func NewDebouncer(events <-chan Event, gate Gate, quiescence time.Duration) *Debouncer {
	if quiescence <= 0 {
		quiescence = DefaultQuiescence
	}
	return &Debouncer{
		events:     events,
		gate:       gate,
		quiescence: quiescence,
	}
}

// Next blocks until a relevant event arrives and its burst has settled,
// then returns that first accepted event as the trigger. Rejected events
// never start or extend the window.
func (d *Debouncer) Next() (Event, error) {
	for {
		e, ok := <-d.events
		if !ok {
			return Event{}, ErrEventSourceClosed
		}

		if !d.gate.Relevant(e) {
			continue
		}

		time.Sleep(d.quiescence)

		absorbed := 0
	drain:
		for {
			select {
			case _, ok := <-d.events:
				if !ok {
					break drain
				}
				absorbed++
			default:
				break drain
			}
		}

		if absorbed > 0 {
			log.LogWithFields(log.F("absorbed", absorbed)).Debug("Coalesced burst into one trigger")
		}

		return e, nil
	}
}
