package webrtc

import (
	"net"
	"strings"
)

// cgnat is 100.64.0.0/10, used by carrier NAT, Tailscale and Cloudflare WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// iface is the slice of net.Interface that relay detection needs.
type iface struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or carrier NAT, where direct candidates rarely connect and TURN is needed.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	list := make([]iface, 0, len(interfaces))
	for _, i := range interfaces {
		addrs, _ := i.Addrs()
		list = append(list, iface{name: i.Name, flags: i.Flags, addrs: addrs})
	}
	return restrictedNetwork(list)
}

func restrictedNetwork(list []iface) bool {
	for _, i := range list {
		if i.flags&net.FlagUp == 0 || i.flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(i.name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return true
			}
		}

		for _, addr := range i.addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}
