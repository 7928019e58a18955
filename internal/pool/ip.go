package pool

import (
	"encoding/binary"
	"net"
)

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	dup := make(net.IP, len(ip))
	copy(dup, ip)
	return dup
}

func incrementIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	res := cloneIP(ip)
	for i := len(res) - 1; i >= 0; i-- {
		res[i]++
		if res[i] != 0 {
			break
		}
	}
	return res
}

func compareIP(a, b net.IP) int {
	av, bv := toUint32(a), toUint32(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// toUint32 assumes ip is IPv4; callers validate with To4 first.
func toUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}
