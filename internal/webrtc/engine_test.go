package webrtc

import (
	"net"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/config"
)

func TestCapabilities(t *testing.T) {
	t.Parallel()

	audio := Capabilities(pion.RTPCodecTypeAudio)
	if len(audio) == 0 || audio[0].MimeType != pion.MimeTypeOpus {
		t.Fatalf("audio capabilities should start with opus, got %v", audio)
	}
	video := Capabilities(pion.RTPCodecTypeVideo)
	if len(video) == 0 || video[0].MimeType != pion.MimeTypeVP8 {
		t.Fatalf("video capabilities should start with VP8, got %v", video)
	}
	for _, c := range video {
		if c.MimeType == pion.MimeTypeRTX {
			t.Error("RTX must not be offered")
		}
	}

	audio[0].MimeType = "audio/mutated"
	if Capabilities(pion.RTPCodecTypeAudio)[0].MimeType != pion.MimeTypeOpus {
		t.Error("Capabilities returned the shared table")
	}
}

func TestLookupAndKind(t *testing.T) {
	t.Parallel()

	if c, ok := Lookup("video/h264"); !ok || c.PayloadType != 102 {
		t.Errorf("Lookup(video/h264) = %v, %v", c.PayloadType, ok)
	}
	if _, ok := Lookup("video/H265"); ok {
		t.Error("Lookup(video/H265) should miss")
	}
	if KindOf("Audio/opus") != pion.RTPCodecTypeAudio || KindOf("video/VP8") != pion.RTPCodecTypeVideo {
		t.Error("KindOf misclassified")
	}
}

func TestConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		ice         config.ICE
		restricted  bool
		wantServers int
		wantPolicy  pion.ICETransportPolicy
	}{
		{"no servers", config.ICE{}, false, 0, pion.ICETransportPolicyAll},
		{"stun only", config.ICE{STUN: []string{"stun:stun.example.com:19302"}}, true, 1, pion.ICETransportPolicyAll},
		{"turn available", config.ICE{STUN: []string{"stun:a"}, TURN: "turn:t"}, false, 2, pion.ICETransportPolicyAll},
		{"forced relay", config.ICE{TURN: "turn:t", ForceRelay: true}, false, 1, pion.ICETransportPolicyRelay},
		{"restricted network", config.ICE{TURN: "turn:t"}, true, 1, pion.ICETransportPolicyRelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := configuration(tt.ice, tt.restricted)
			if len(got.ICEServers) != tt.wantServers {
				t.Errorf("ICEServers = %d, want %d", len(got.ICEServers), tt.wantServers)
			}
			if got.ICETransportPolicy != tt.wantPolicy {
				t.Errorf("policy = %s, want %s", got.ICETransportPolicy, tt.wantPolicy)
			}
		})
	}
}

func TestRestrictedNetwork(t *testing.T) {
	t.Parallel()

	up := net.FlagUp
	lan := &net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)}
	carrier := &net.IPNet{IP: net.ParseIP("100.101.2.3"), Mask: net.CIDRMask(10, 32)}

	tests := []struct {
		name string
		list []iface
		want bool
	}{
		{"plain lan", []iface{{name: "eth0", flags: up, addrs: []net.Addr{lan}}}, false},
		{"wireguard", []iface{{name: "wg0", flags: up}}, true},
		{"down tunnel", []iface{{name: "tun0"}}, false},
		{"loopback ignored", []iface{{name: "lo", flags: up | net.FlagLoopback, addrs: []net.Addr{carrier}}}, false},
		{"cgnat address", []iface{{name: "eth0", flags: up, addrs: []net.Addr{carrier}}}, true},
	}
	for _, tt := range tests {
		if got := restrictedNetwork(tt.list); got != tt.want {
			t.Errorf("%s: restrictedNetwork = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(config.ICE{}, WithLoopback())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pc, err := e.NewPeerConnection()
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	if err := pc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
