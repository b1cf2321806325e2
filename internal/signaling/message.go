package signaling

// Event names exchanged with the relay.
const (
	EventJoin          = "join"
	EventLeave         = "leave"
	EventOffer         = "offer"
	EventAnswer        = "answer"
	EventOfferRejected = "offer-rejected"
	EventError         = "error"
)

// JoinPayload subscribes a client to a room.
type JoinPayload struct {
	Username string `json:"username" msgpack:"username"`
	Room     string `json:"room" msgpack:"room"`
}

// Description carries an SDP offer or answer for a room. Username is set on
// answers only.
type Description struct {
	Room     string `json:"room" msgpack:"room"`
	SDP      string `json:"sdp" msgpack:"sdp"`
	Type     string `json:"type" msgpack:"type"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
}

// RejectionPayload tells a caller its offer was dropped.
type RejectionPayload struct {
	Room     string `json:"room" msgpack:"room"`
	Reason   string `json:"reason" msgpack:"reason"`
	Username string `json:"username" msgpack:"username"`
}

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Error string `json:"error" msgpack:"error"`
}

// RoomRef extracts the room of any room-scoped payload.
type RoomRef struct {
	Room string `json:"room" msgpack:"room"`
}

// Message is one decoded frame. Its payload stays encoded until Decode.
type Message struct {
	Event string
	body  []byte
	codec Codec
}

// NewMessage builds a Message around an already encoded payload.
func NewMessage(codec Codec, event string, body []byte) *Message {
	return &Message{Event: event, body: body, codec: codec}
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.body) == 0 {
		return nil
	}
	return m.codec.Unmarshal(m.body, v)
}
