package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Address is a parsed replication endpoint.
type Address struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   uint16 `json:"port,omitempty"` // 0 means absent
	Path   string `json:"path"`
}

// ParseAddress parses a URL such as ws://host:4984/db into an Address.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Address{}, fmt.Errorf("parse address %q: scheme and host are required", raw)
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return Address{}, fmt.Errorf("parse address %q: credentials, query and fragment are not supported", raw)
	}

	addr := Address{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Path:   u.Path,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return Address{}, fmt.Errorf("parse address %q: invalid port %q", raw, p)
		}
		addr.Port = uint16(port)
	}
	if addr.Path == "" {
		addr.Path = "/"
	}
	return addr, nil
}

// RenderAddress is the inverse of ParseAddress.
func RenderAddress(a Address) string {
	host := a.Host
	if a.Port != 0 {
		host = net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
	} else if strings.Contains(a.Host, ":") {
		host = "[" + a.Host + "]"
	}
	u := url.URL{Scheme: a.Scheme, Host: host, Path: a.Path}
	return u.String()
}

func (a Address) String() string { return RenderAddress(a) }

// DatabaseName returns the last non-empty path segment.
func (a Address) DatabaseName() string {
	segments := strings.Split(strings.Trim(a.Path, "/"), "/")
	return segments[len(segments)-1]
}
