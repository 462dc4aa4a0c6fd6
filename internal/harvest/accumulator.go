package harvest

import (
	"strings"
	"sync"
)

// Source identifies where a cookie fragment was observed.
type Source string

const (
	SourceDocument  Source = "document"
	SourceResponse  Source = "response"
	SourceSideFetch Source = "side_fetch"
)

// accumulator is an insertion-ordered set of cookie fragments owned by a
// single harvest. It accepts additions from any goroutine until sealed.
type accumulator struct {
	mu     sync.Mutex
	order  []string
	seen   map[string]struct{}
	counts map[Source]int
	late   int
	sealed bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		seen:   make(map[string]struct{}),
		counts: make(map[Source]int),
	}
}

// add trims fragment and records it if it is new. Empty fragments are kept
// until seal so the set mirrors exactly what was observed.
func (a *accumulator) add(src Source, fragment string) bool {
	fragment = strings.TrimSpace(fragment)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		a.late++
		return false
	}
	if _, dup := a.seen[fragment]; dup {
		return false
	}
	a.seen[fragment] = struct{}{}
	a.order = append(a.order, fragment)
	if fragment != "" {
		a.counts[src]++
	}
	return true
}

// addSplit adds every sep-delimited part of s.
func (a *accumulator) addSplit(src Source, s, sep string) {
	for _, part := range strings.Split(s, sep) {
		a.add(src, part)
	}
}

// seal stops further additions and returns the non-empty fragments in
// insertion order.
func (a *accumulator) seal() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true

	out := make([]string, 0, len(a.order))
	for _, f := range a.order {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (a *accumulator) stats() (counts map[Source]int, late int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts = make(map[Source]int, len(a.counts))
	for k, v := range a.counts {
		counts[k] = v
	}
	return counts, a.late
}
