// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bridge

import (
	"bytes"
	"encoding/json"
)

// Envelope is the wire form of a correlated message. Peers answer a
// correlated request by sending back an envelope with the same ID.
type Envelope struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// Marshal renders the envelope as JSON text.
func (e Envelope) Marshal() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// ParseEnvelope recognizes a correlated reply. Both fields must be present
// and the id non-empty; any other text is a plain message.
func ParseEnvelope(text string) (Envelope, bool) {
	raw := bytes.TrimSpace([]byte(text))
	if len(raw) == 0 || raw[0] != '{' {
		return Envelope{}, false
	}
	var probe struct {
		ID   *string `json:"id"`
		Body *string `json:"body"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil || probe.Body == nil || *probe.ID == "" {
		return Envelope{}, false
	}
	return Envelope{ID: *probe.ID, Body: *probe.Body}, true
}
