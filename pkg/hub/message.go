// Package hub provides a channel-based websocket broadcast hub: one goroutine
// owns the client set, only each client's write pump touches its connection,
// and a slow client is dropped rather than allowed to stall the stream.
package hub

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded message (action progress, state).
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (JPEG stream frames).
	BinaryMessage
)

// Message is one payload to fan out to every connected client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
