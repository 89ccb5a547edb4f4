// Package ipallow classifies caller IPs as internal/trusted or not. The
// allowlist is the fixed internal ranges plus whatever extras configuration
// supplies, built once at startup and immutable after that.
//
// IPv4 entries are matched by masking the address against the range; IPv6
// entries are matched by exact string equality only. There is no IPv6 CIDR
// math here on purpose: the deployment only ever presents IPv4 (usually as
// ::ffff:-mapped addresses), so the limitation is documented rather than
// fixed.
package ipallow

import (
	"encoding/binary"
	"net"
	"net/http"
	"strconv"
	"strings"
)

var internalRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.1",
	"::1",
}

type v4Range struct {
	base uint32
	mask uint32
}

// Allowlist is safe for concurrent use; it is never mutated after New.
type Allowlist struct {
	v4    []v4Range
	exact []string // IPv6 entries, matched verbatim
}

// New builds the allowlist from the built-in internal ranges plus extra
// entries (CIDRs or single addresses). Malformed extras are skipped; a bad
// entry must never open the list up.
func New(extra []string) *Allowlist {
	a := &Allowlist{}
	for _, raw := range append(append([]string{}, internalRanges...), extra...) {
		a.add(strings.TrimSpace(raw))
	}
	return a
}

func (a *Allowlist) add(raw string) {
	if raw == "" {
		return
	}
	if strings.Contains(raw, ":") {
		a.exact = append(a.exact, raw)
		return
	}
	addr, bits := raw, 32
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		addr = raw[:i]
		n, err := strconv.Atoi(raw[i+1:])
		if err != nil || n < 0 || n > 32 {
			return
		}
		bits = n
	}
	base, ok := parseIPv4(addr)
	if !ok {
		return
	}
	var mask uint32
	if bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	a.v4 = append(a.v4, v4Range{base: base & mask, mask: mask})
}

// Allowed reports whether ip falls inside any configured range. It never
// errors: empty, "unknown", or unparsable input is simply not allowed.
func (a *Allowlist) Allowed(ip string) bool {
	if ip == "" || ip == "unknown" {
		return false
	}
	ip = strings.TrimPrefix(ip, "::ffff:")
	if v, ok := parseIPv4(ip); ok {
		for _, r := range a.v4 {
			if v&r.mask == r.base {
				return true
			}
		}
		return false
	}
	for _, e := range a.exact {
		if e == ip {
			return true
		}
	}
	return false
}

func parseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil || strings.Contains(s, ":") {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

// ClientIP extracts the caller address from proxy headers in priority
// order: x-forwarded-for (first entry), cf-connecting-ip, x-real-ip. Falls
// back to "unknown"; it never consults RemoteAddr because every production
// hop sits behind the edge proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if s := strings.TrimSpace(fwd); s != "" {
			return s
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("cf-connecting-ip")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("x-real-ip")); ip != "" {
		return ip
	}
	return "unknown"
}
