package relay

import "github.com/phudinh153/camcast/internal/signaling"

// inbound is a frame read from a client, decoded far enough to route it.
type inbound struct {
	msg   *signaling.Message
	frame []byte

	// client is the client that sent the message.
	client *Client
}

// encodeFor re-encodes the message in the codec of target, reusing the
// original frame when both sides share a codec.
func (in *inbound) encodeFor(target *Client) ([]byte, error) {
	if target.codec.Name() == in.client.codec.Name() {
		return in.frame, nil
	}
	var payload map[string]any
	if err := in.msg.Decode(&payload); err != nil {
		return nil, err
	}
	return target.codec.Encode(in.msg.Event, payload)
}
