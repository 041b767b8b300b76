// internal/status/snapshot.go
package status

// Snapshot represents exactly what the mirror is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
}

// Points is the decoded five-signal status tuple of the PLC.
type Points struct {
	UpIn         bool
	UpOut        bool
	DnIn         bool
	DnOut        bool
	StartMessage bool
}

// Bits returns the tuple in fixed order.
func (p Points) Bits() []bool {
	return []bool{p.UpIn, p.UpOut, p.DnIn, p.DnOut, p.StartMessage}
}

// Payload renders the tuple as 0/1 integers keyed by their console names.
func (p Points) Payload() map[string]any {
	return map[string]any{
		"up_in":         b2i(p.UpIn),
		"up_out":        b2i(p.UpOut),
		"dn_in":         b2i(p.DnIn),
		"dn_out":        b2i(p.DnOut),
		"start_message": b2i(p.StartMessage),
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
