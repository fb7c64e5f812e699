package device

import "net"

// OnlineFunc reports whether the host has a usable network.
type OnlineFunc func() (bool, error)

// InterfacesOnline reports true when some non-loopback interface is up and
// carries a global unicast address.
func InterfacesOnline() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if hasGlobalUnicast(addrs) {
			return true, nil
		}
	}
	return false, nil
}

func hasGlobalUnicast(addrs []net.Addr) bool {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}
