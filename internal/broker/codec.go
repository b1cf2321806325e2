package broker

import (
	"fmt"
	"strings"

	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/webrtc"
)

// CodecPreference forces one codec for a media kind.
type CodecPreference struct {
	Kind     pion.RTPCodecType
	MimeType string
}

// ParseCodecPreference reads a "kind/name" mime type. An empty string means
// no preference and returns nil.
func ParseCodecPreference(mime string) (*CodecPreference, error) {
	if mime == "" {
		return nil, nil
	}
	kind := webrtc.KindOf(mime)
	if kind != pion.RTPCodecTypeAudio && kind != pion.RTPCodecTypeVideo {
		return nil, fmt.Errorf("codec %q: want audio/... or video/...", mime)
	}
	return &CodecPreference{Kind: kind, MimeType: mime}, nil
}

// Filter returns the capabilities whose mime type matches p, keeping the
// order they were supplied in.
func (p *CodecPreference) Filter(caps []pion.RTPCodecParameters) []pion.RTPCodecParameters {
	var out []pion.RTPCodecParameters
	for _, c := range caps {
		if strings.EqualFold(c.MimeType, p.MimeType) {
			out = append(out, c)
		}
	}
	return out
}

// Apply restricts the transceiver carrying sender to p's codecs. It must
// run before the answer is created.
func (p *CodecPreference) Apply(pc *pion.PeerConnection, sender *pion.RTPSender) error {
	codecs := p.Filter(webrtc.Capabilities(p.Kind))
	if len(codecs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatchingCodec, p.MimeType)
	}
	for _, tr := range pc.GetTransceivers() {
		if tr.Sender() == sender {
			return tr.SetCodecPreferences(codecs)
		}
	}
	return fmt.Errorf("%w: no transceiver for %s sender", ErrNegotiation, p.Kind)
}
