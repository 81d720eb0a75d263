package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

func Telnet(addr string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()

	return true
}

// GetClientIP returns the host part of the peer address. Forwarding
// headers are ignored, they are set by the client.
func GetClientIP(r *http.Request) string {
	return HostOf(r.RemoteAddr)
}

func GetFullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

// HostOf strips the port from addr, if any.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// IPFilter is a list of client addresses and networks allowed to use a
// server.
type IPFilter struct {
	nets []*net.IPNet
}

// ParseIPFilter parses a comma separated list of IPs and CIDRs. An empty
// list returns a nil filter, which allows every client.
func ParseIPFilter(list string) (*IPFilter, error) {
	var f IPFilter
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if strings.Contains(s, "/") {
			_, n, err := net.ParseCIDR(s)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", s, err)
			}
			f.nets = append(f.nets, n)
			continue
		}

		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		bits := 128
		if ip4 := ip.To4(); ip4 != nil {
			ip, bits = ip4, 32
		}
		f.nets = append(f.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}

	if len(f.nets) == 0 {
		return nil, nil
	}
	return &f, nil
}

// Allowed reports whether ip may connect. A nil filter allows anything.
func (f *IPFilter) Allowed(ip string) bool {
	if f == nil {
		return true
	}

	addr := net.ParseIP(HostOf(ip))
	if addr == nil {
		return false
	}
	for _, n := range f.nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

func (f *IPFilter) String() string {
	if f == nil {
		return "*"
	}
	s := make([]string, 0, len(f.nets))
	for _, n := range f.nets {
		s = append(s, n.String())
	}
	return strings.Join(s, ",")
}
