package webrtc

import (
	"fmt"
	"strings"

	pion "github.com/pion/webrtc/v4"
)

var videoFeedback = []pion.RTCPFeedback{
	{Type: pion.TypeRTCPFBGoogREMB},
	{Type: pion.TypeRTCPFBCCM, Parameter: "fir"},
	{Type: pion.TypeRTCPFBNACK},
	{Type: pion.TypeRTCPFBNACK, Parameter: "pli"},
}

// audioCodecs lists what the webcam can send, most preferred first.
var audioCodecs = []pion.RTPCodecParameters{
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		PayloadType:        111,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeG722, ClockRate: 8000},
		PayloadType:        9,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	},
}

// videoCodecs lists what the webcam can send, most preferred first. RTX is
// not registered.
var videoCodecs = []pion.RTPCodecParameters{
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: videoFeedback},
		PayloadType:        96,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0", RTCPFeedback: videoFeedback},
		PayloadType:        98,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", RTCPFeedback: videoFeedback},
		PayloadType:        102,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", RTCPFeedback: videoFeedback},
		PayloadType:        125,
	},
	{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeAV1, ClockRate: 90000, RTCPFeedback: videoFeedback},
		PayloadType:        45,
	},
}

// Capabilities returns the codecs the engine can send for kind, in
// preference order. The slice is a copy.
func Capabilities(kind pion.RTPCodecType) []pion.RTPCodecParameters {
	switch kind {
	case pion.RTPCodecTypeAudio:
		return append([]pion.RTPCodecParameters(nil), audioCodecs...)
	case pion.RTPCodecTypeVideo:
		return append([]pion.RTPCodecParameters(nil), videoCodecs...)
	}
	return nil
}

// Lookup returns the first capability for mime, compared case-insensitively.
func Lookup(mime string) (pion.RTPCodecParameters, bool) {
	for _, list := range [][]pion.RTPCodecParameters{audioCodecs, videoCodecs} {
		for _, c := range list {
			if strings.EqualFold(c.MimeType, mime) {
				return c, true
			}
		}
	}
	return pion.RTPCodecParameters{}, false
}

// KindOf reports the media kind of a "kind/name" mime type.
func KindOf(mime string) pion.RTPCodecType {
	prefix, _, _ := strings.Cut(strings.ToLower(mime), "/")
	return pion.NewRTPCodecType(prefix)
}

func registerCodecs(m *pion.MediaEngine) error {
	for _, c := range audioCodecs {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeAudio); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}
