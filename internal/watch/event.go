package watch

import "github.com/fsnotify/fsnotify"

// Event is a single filesystem change notification. The change kind is
// carried through untouched; relevance is decided purely on paths. Some
// backends report events without a path (rescans, overflows), so Paths
// may be empty.
type Event struct {
	Op    fsnotify.Op
	Paths []string
}

// Gate decides whether an Event is relevant enough to become a trigger.
// The globset filter is the stock implementation; anything with the same
// shape can be swapped in without touching the debounce loop.
type Gate interface {
	Relevant(e Event) bool
}
