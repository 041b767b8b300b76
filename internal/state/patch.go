// internal/state/patch.go
package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPatch marks an event whose shape is invalid for its op.
	ErrMalformedPatch = errors.New("state: malformed patch")

	// ErrPatchRejected marks a well-formed event that does not fit the document.
	ErrPatchRejected = errors.New("state: patch rejected")
)

// Ops.
const (
	OpResetAll    = "RESET_ALL"
	OpSet         = "SET"
	OpDictSet     = "DICT_SET"
	OpDictDel     = "DICT_DEL"
	OpDictClear   = "DICT_CLEAR"
	OpListUnshift = "LIST_UNSHIFT"
	OpListClear   = "LIST_CLEAR"

	DefaultMaxLen = 500
)

// Event is the journaled wire form of a patch.
type Event struct {
	Op     string          `json:"op"`
	Path   []string        `json:"path,omitempty"`
	Key    *string         `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	MaxLen *int            `json:"max_len,omitempty"`
	TS     *int64          `json:"ts,omitempty"`
}

// Patch is one typed mutation. Exactly one concrete type per op.
type Patch interface {
	Op() string
	event() (Event, error)
}

// ResetAll restores the default document.
type ResetAll struct{}

// Set replaces the node at Path, creating intermediate objects.
type Set struct {
	Path  []string
	Value any
}

// SetKey sets one field of the dictionary at Path (root when Path is empty),
// creating the dictionary and its parents.
type SetKey struct {
	Path  []string
	Key   string
	Value any
}

// DictDel removes Key from the dictionary at Path. A missing key is a no-op.
type DictDel struct {
	Path []string
	Key  string
}

// DictClear replaces the node at Path with an empty dictionary.
type DictClear struct {
	Path []string
}

// ListUnshift prepends Value to the list at Path and keeps at most MaxLen items.
type ListUnshift struct {
	Path   []string
	Value  any
	MaxLen int
}

// ListClear replaces the node at Path with an empty list.
type ListClear struct {
	Path []string
}

func (ResetAll) Op() string    { return OpResetAll }
func (Set) Op() string         { return OpSet }
func (SetKey) Op() string      { return OpDictSet }
func (DictDel) Op() string     { return OpDictDel }
func (DictClear) Op() string   { return OpDictClear }
func (ListUnshift) Op() string { return OpListUnshift }
func (ListClear) Op() string   { return OpListClear }

// ---- typed -> wire ----

func (p ResetAll) event() (Event, error) { return Event{Op: OpResetAll}, nil }

func (p Set) event() (Event, error) {
	v, err := json.Marshal(p.Value)
	return Event{Op: OpSet, Path: p.Path, Value: v}, err
}

func (p SetKey) event() (Event, error) {
	v, err := json.Marshal(p.Value)
	return Event{Op: OpDictSet, Path: p.Path, Key: &p.Key, Value: v}, err
}

func (p DictDel) event() (Event, error) {
	return Event{Op: OpDictDel, Path: p.Path, Key: &p.Key}, nil
}

func (p DictClear) event() (Event, error) { return Event{Op: OpDictClear, Path: p.Path}, nil }

func (p ListUnshift) event() (Event, error) {
	v, err := json.Marshal(p.Value)
	ev := Event{Op: OpListUnshift, Path: p.Path, Value: v}
	if p.MaxLen > 0 {
		ev.MaxLen = &p.MaxLen
	}
	return ev, err
}

func (p ListClear) event() (Event, error) { return Event{Op: OpListClear, Path: p.Path}, nil }

// ---- wire -> typed ----

// DecodeEvent parses one journal line or inbound patch.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
	}
	return ev, nil
}

// Patch converts the wire form into its typed variant, checking the fields
// each op requires.
func (ev Event) Patch() (Patch, error) {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedPatch, ev.Op, fmt.Sprintf(format, args...))
	}

	for i, seg := range ev.Path {
		if seg == "" {
			return nil, malformed("empty path segment %d", i)
		}
	}

	switch ev.Op {
	case OpResetAll:
		return ResetAll{}, nil

	case OpSet, OpDictSet:
		if len(ev.Value) == 0 {
			return nil, malformed("value required")
		}
		v, err := decodeValue(ev.Value)
		if err != nil {
			return nil, malformed("value: %v", err)
		}
		if ev.Key != nil {
			return SetKey{Path: ev.Path, Key: *ev.Key, Value: v}, nil
		}
		if len(ev.Path) == 0 {
			return nil, malformed("path or key required")
		}
		return Set{Path: ev.Path, Value: v}, nil

	case OpDictDel:
		if ev.Key == nil {
			return nil, malformed("key required")
		}
		return DictDel{Path: ev.Path, Key: *ev.Key}, nil

	case OpDictClear:
		if len(ev.Path) == 0 {
			return nil, malformed("path required")
		}
		return DictClear{Path: ev.Path}, nil

	case OpListUnshift:
		if len(ev.Path) == 0 {
			return nil, malformed("path required")
		}
		if len(ev.Value) == 0 {
			return nil, malformed("value required")
		}
		v, err := decodeValue(ev.Value)
		if err != nil {
			return nil, malformed("value: %v", err)
		}
		maxLen := DefaultMaxLen
		if ev.MaxLen != nil {
			if *ev.MaxLen < 1 {
				return nil, malformed("max_len must be >= 1, got %d", *ev.MaxLen)
			}
			maxLen = *ev.MaxLen
		}
		return ListUnshift{Path: ev.Path, Value: v, MaxLen: maxLen}, nil

	case OpListClear:
		if len(ev.Path) == 0 {
			return nil, malformed("path required")
		}
		return ListClear{Path: ev.Path}, nil

	case "":
		return nil, fmt.Errorf("%w: op required", ErrMalformedPatch)

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrMalformedPatch, ev.Op)
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
