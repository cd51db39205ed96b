// Package listen implements the Engine's version-change notification
// registries (spec section 4.5): point_listeners keyed on a Token, and
// range_listeners tracking find-style predicates. Registrations are
// removed explicitly by the owning AtomicOperation's Commit/Cancel (or a
// Transaction's Commit/Abort), which
// plays the role of the "weak reference" the spec's design note
// describes (see DESIGN.md's Design Note discussion).
package listen

import (
	"sync"

	"github.com/azmodb/concourse/pkg/token"
	"github.com/azmodb/concourse/pkg/vtype"
)

// Listener is notified synchronously when a write intersects a token or
// range it registered for. Implementations are expected to just mark
// themselves preempted; the actual abort work happens on the listener's
// next operation or at commit (spec section 4.5).
type Listener interface {
	OnVersionChange()
}

// RangeMatcher decides whether a write's value for Key intersects a
// registered find-style predicate.
type RangeMatcher struct {
	Key     string
	Matches func(v vtype.Value) bool
}

// Registry owns the point and range listener maps described in spec
// section 4.5.
type Registry struct {
	mu sync.Mutex

	points map[string]map[uint64]Listener // token bytes -> operation id -> listener
	byID   map[uint64]map[string]struct{} // operation id -> set of registered token bytes

	ranges map[uint64][]rangeEntry // operation id -> range registrations
}

type rangeEntry struct {
	matcher  RangeMatcher
	listener Listener
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		points: make(map[string]map[uint64]Listener),
		byID:   make(map[uint64]map[string]struct{}),
		ranges: make(map[uint64][]rangeEntry),
	}
}

// RegisterPoint records that operation id's next preemption should fire
// if a write touches tok.
func (r *Registry) RegisterPoint(tok token.Token, id uint64, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tok.String()
	if r.points[key] == nil {
		r.points[key] = make(map[uint64]Listener)
	}
	r.points[key][id] = l

	if r.byID[id] == nil {
		r.byID[id] = make(map[string]struct{})
	}
	r.byID[id][key] = struct{}{}
}

// RegisterRange records that operation id's listener should fire if a
// future write's value for matcher.Key satisfies matcher.Matches.
func (r *Registry) RegisterRange(id uint64, matcher RangeMatcher, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges[id] = append(r.ranges[id], rangeEntry{matcher: matcher, listener: l})
}

// Unregister removes every point and range registration belonging to
// id, called from the owning AtomicOperation's Commit/Cancel (and on
// preemption at commit) or a Transaction's Commit/Abort.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.byID[id] {
		delete(r.points[key], id)
		if len(r.points[key]) == 0 {
			delete(r.points, key)
		}
	}
	delete(r.byID, id)
	delete(r.ranges, id)
}

// NotifyWrite computes the tokens a write to (key, record) affects —
// {record}, {key,record} and {key} — and the ranges it affects, and
// calls OnVersionChange on every matching listener.
func (r *Registry) NotifyWrite(key string, record uint64, value vtype.Value) {
	r.mu.Lock()
	var fired []Listener

	for _, tok := range []token.Token{
		token.ForRecord(record),
		token.ForKeyRecord(key, record),
		token.ForKey(key),
	} {
		for _, l := range r.points[tok.String()] {
			fired = append(fired, l)
		}
	}

	for _, entries := range r.ranges {
		for _, e := range entries {
			if e.matcher.Key == key && e.matcher.Matches(value) {
				fired = append(fired, e.listener)
			}
		}
	}
	r.mu.Unlock()

	for _, l := range fired {
		l.OnVersionChange()
	}
}
