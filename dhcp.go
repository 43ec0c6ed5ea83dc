//go:build !rp2350

//----------------------------------------------------------------------
// This file is part of ledlink.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// ledlink is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// ledlink is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package ledlink

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// DHCP errors
var (
	errDHCPIgnored   = errors.New("dhcp: message type not served")
	errPoolExhausted = errors.New("dhcp: address pool exhausted")
	errNotIPv4       = errors.New("dhcp: server address is not IPv4")
)

// default lease of AP clients
const dhcpLease = 2 * time.Hour

// DHCPServer answers DHCP requests of access point clients. Leases come
// from the AP subnet; the offered DNS server is settable at runtime.
type DHCPServer struct {
	mu     mutex
	addr   netip.Prefix
	dns    netip.Addr
	next   netip.Addr
	leases map[string]netip.Addr
}

// NewDHCPServer serves the subnet of addr (the AP address).
func NewDHCPServer(addr netip.Prefix) *DHCPServer {
	return &DHCPServer{
		addr:   addr,
		next:   addr.Masked().Addr().Next(),
		leases: make(map[string]netip.Addr),
	}
}

// SetDNS sets the DNS server offered to clients.
func (s *DHCPServer) SetDNS(dns netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dns = dns
}

// DNS returns the offered DNS server; the AP itself if none is set.
func (s *DHCPServer) DNS() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dns.IsValid() {
		return s.dns
	}
	return s.addr.Addr()
}

// Handle a wire-format request and return the wire-format reply:
// DISCOVER is answered with OFFER, REQUEST with ACK.
func (s *DHCPServer) Handle(raw []byte) ([]byte, error) {
	if !s.addr.Addr().Is4() {
		return nil, errNotIPv4
	}
	req, err := dhcpv4.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	var typ dhcpv4.MessageType
	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		typ = dhcpv4.MessageTypeOffer
	case dhcpv4.MessageTypeRequest:
		typ = dhcpv4.MessageTypeAck
	default:
		return nil, errDHCPIgnored
	}
	client, err := s.lease(req.ClientHWAddr)
	if err != nil {
		return nil, err
	}
	srv := net.IP(s.addr.Addr().AsSlice())
	reply, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(typ),
		dhcpv4.WithYourIP(net.IP(client.AsSlice())),
		dhcpv4.WithServerIP(srv),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(srv)),
		dhcpv4.WithRouter(srv),
		dhcpv4.WithNetmask(net.CIDRMask(s.addr.Bits(), 32)),
		dhcpv4.WithLeaseTime(uint32(dhcpLease/time.Second)),
		dhcpv4.WithDNS(net.IP(s.DNS().AsSlice())),
	)
	if err != nil {
		return nil, err
	}
	return reply.ToBytes(), nil
}

// lease returns the address bound to a client, allocating a new one on
// first contact.
func (s *DHCPServer) lease(hw net.HardwareAddr) (netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hw.String()
	if ip, ok := s.leases[key]; ok {
		return ip, nil
	}
	ip := s.next
	if ip == s.addr.Addr() {
		ip = ip.Next()
	}
	bcast := !ip.Next().IsValid() || !s.addr.Contains(ip.Next())
	if !s.addr.Contains(ip) || bcast {
		return netip.Addr{}, errPoolExhausted
	}
	s.leases[key] = ip
	s.next = ip.Next()
	return ip, nil
}
