package ws

import (
	"encoding/json"
	"sync"
)

// Frame is the JSON envelope exchanged on a connection, both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outFrame avoids re-marshaling payloads the server builds itself.
type outFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// peer serializes writes to one connection. The registry hands it to
// concurrent dispatchers, so every write goes through the mutex.
type peer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPeer(enc *json.Encoder) *peer {
	return &peer{enc: enc}
}

// Send implements registry.Peer.
func (p *peer) Send(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(outFrame{Type: event, Payload: payload})
}
