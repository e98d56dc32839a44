// Package session holds the session record shared by two peers and the
// state machines that enforce who may change its capability sets.
//
// A Sequence is created by the settlement handshake, which lives outside
// this package, and reaches it through a Store. Only the peer whose
// SelfIsController is true may start a methods or events update; either
// peer may receive one.
package session

import (
	"encoding/json"
	"sort"
)

// Set is an unordered set of strings. It travels as a JSON array sorted
// for stable output.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s Set) Len() int { return len(s) }

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	items := make([]string, 0, len(s))
	for item := range s {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for item := range s {
		out[item] = struct{}{}
	}
	return out
}

func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for item := range s {
		if !o.Has(item) {
			return false
		}
	}
	return true
}

// valid reports whether s can replace a capability set: it must have at
// least one member and no member may be empty.
func (s Set) valid() bool {
	if len(s) == 0 {
		return false
	}
	return !s.Has("")
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		*s = nil
		return nil
	}
	*s = NewSet(items...)
	return nil
}

// Sequence is one side's record of a session.
type Sequence struct {
	Topic            string `json:"topic"`
	Acknowledged     bool   `json:"acknowledged"`
	SelfIsController bool   `json:"selfIsController"`
	Methods          Set    `json:"methods"`
	Events           Set    `json:"events"`

	// Set by settlement and never changed here.
	Accounts    []string        `json:"accounts,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
	Expiry      int64           `json:"expiry,omitempty"`
}

// Clone returns a copy that shares no maps or slices with seq.
func (seq Sequence) Clone() Sequence {
	out := seq
	if seq.Methods != nil {
		out.Methods = seq.Methods.Clone()
	}
	if seq.Events != nil {
		out.Events = seq.Events.Clone()
	}
	if seq.Accounts != nil {
		out.Accounts = append([]string(nil), seq.Accounts...)
	}
	if seq.Permissions != nil {
		out.Permissions = append(json.RawMessage(nil), seq.Permissions...)
	}
	return out
}
