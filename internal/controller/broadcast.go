// internal/controller/broadcast.go
package controller

import "encoding/json"

// Broadcaster receives every outbound envelope. Implementations must not block.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// Fanout delivers one frame to several broadcasters in order.
type Fanout []Broadcaster

func (f Fanout) Broadcast(frame []byte) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(frame)
		}
	}
}

// ---- envelopes ----

const (
	EnvelopeData    = "data"
	EnvelopeControl = "control"
)

// Envelope is the JSON shape pushed to consoles.
type Envelope struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Source  string `json:"source,omitempty"`
	Payload any    `json:"payload"`
}

func dataEnvelope(source string, payload any) Envelope {
	return Envelope{Type: EnvelopeData, Source: source, Payload: payload}
}

func controlEnvelope(command string, payload any) Envelope {
	return Envelope{Type: EnvelopeControl, Command: command, Payload: payload}
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}
