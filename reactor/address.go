// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Address is an IPv4 host/port value type. The zero value is "any
// interface" on port 0.
type Address struct {
	host uint32
	port uint16
}

// NewAddress builds an Address from a dotted-quad host and a port.
func NewAddress(host string, port uint16) (addr Address, err error) {
	ip := net.ParseIP(host)
	if host == "" {
		return Address{port: port}, nil
	}
	if ip == nil {
		return Address{}, fmt.Errorf("reactor: invalid host %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return Address{}, fmt.Errorf("reactor: not an IPv4 address: %q", host)
	}
	return Address{host: binary.BigEndian.Uint32(ip4), port: port}, nil
}

// ParseAddress parses a "host:port" string.
func ParseAddress(s string) (addr Address, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("reactor: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("reactor: invalid port in %q: %w", s, err)
	}
	return NewAddress(host, uint16(port))
}

// Any returns the "any interface" address for the given port.
func Any(port uint16) Address {
	return Address{port: port}
}

// Host renders the dotted-quad host.
func (a Address) Host() string {
	if a.host == 0 {
		return "0.0.0.0"
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.host)
	return net.IP(b[:]).String()
}

// Port returns the 16-bit port.
func (a Address) Port() uint16 { return a.port }

// String renders "host:port", the inverse of ParseAddress.
func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
}

// IsAny reports whether this address binds to all interfaces.
func (a Address) IsAny() bool { return a.host == 0 }

// Equal reports value equality.
func (a Address) Equal(o Address) bool {
	return a.host == o.host && a.port == o.port
}

// Less orders by host then port, for use in sorted containers.
func (a Address) Less(o Address) bool {
	if a.host != o.host {
		return a.host < o.host
	}
	return a.port < o.port
}

// sockaddrIn4 converts the Address to the raw bytes consumed by the
// platform-specific socket syscalls.
func (a Address) sockaddrIn4() (ip [4]byte, port uint16) {
	binary.BigEndian.PutUint32(ip[:], a.host)
	return ip, a.port
}

func addressFromSockaddrIn4(ip [4]byte, port uint16) Address {
	return Address{host: binary.BigEndian.Uint32(ip[:]), port: port}
}
