// Package filter is the client-side sync filter definition: a plain-data
// value object with setters for the handful of nested fields the sync
// engine cares about, plus the allow/disallow matching a filter component
// performs against an event.
package filter

import (
	"encoding/json"
	"sync"
)

// Def is a nested JSON filter definition (event_format,
// room.timeline.limit, room.include_leave, room.state.lazy_load_members,
// ...). Filters are created once server-side and referenced by id
// thereafter; Def is only ever marshaled when (re)creating one.
type Def struct {
	mu   sync.Mutex
	data map[string]any
}

// New returns an empty filter definition.
func New() *Def {
	return &Def{data: map[string]any{}}
}

// SetEventFormat sets the top-level event_format field ("client" or
// "federation").
func (d *Def) SetEventFormat(format string) {
	d.setProp([]string{"event_format"}, format)
}

// SetTimelineLimit caps the number of timeline events returned per room.
func (d *Def) SetTimelineLimit(n int) {
	d.setProp([]string{"room", "timeline", "limit"}, n)
}

// SetIncludeLeave controls whether left rooms are included in the sync
// response (used by the sync engine's left-rooms one-shot pass).
func (d *Def) SetIncludeLeave(include bool) {
	d.setProp([]string{"room", "include_leave"}, include)
}

// SetLazyLoadMembers toggles lazy-loading of room membership state.
func (d *Def) SetLazyLoadMembers(lazy bool) {
	d.setProp([]string{"room", "state", "lazy_load_members"}, lazy)
}

// setProp writes val at the nested path, creating intermediate maps as
// needed. The final path segment is always used as a map key — never as a
// numeric index into len(path)-1, which is the off-by-one a naive
// transliteration of this helper is prone to.
func (d *Def) setProp(path []string, val any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.data
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = val
}

// MarshalJSON serializes the definition's current nested shape.
func (d *Def) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.data)
}

// Component is one allow/disallow rule set a filter applies to a field
// such as event type or sender (spec.md's filter-component.check).
type Component struct {
	Allowed    []string
	Disallowed []string
}

// Check reports whether value passes this component: rejected if it
// matches anything in Disallowed (any-match over the disallowed list);
// otherwise, when Allowed is non-empty, it must match at least one entry
// (an exists-match over the allowed list) or it's rejected too.
func (c Component) Check(value string) bool {
	for _, d := range c.Disallowed {
		if d == value {
			return false
		}
	}
	if len(c.Allowed) == 0 {
		return true
	}
	for _, a := range c.Allowed {
		if a == value {
			return true
		}
	}
	return false
}
