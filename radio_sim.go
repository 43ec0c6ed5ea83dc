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
)

// simulated radio errors
var (
	errNotConfigured = errors.New("radio not configured")
	errAPFull        = errors.New("access point client limit reached")
)

// disconnect reasons reported by the simulated radio
const (
	reasonNoAP      = "no AP found"
	reasonAuthFail  = "auth fail"
	reasonThreshold = "auth mode below threshold"
)

// Network is an upstream network reachable by the simulated radio.
type Network struct {
	SSID       string
	Passphrase string
	Addr       netip.Prefix // address handed to the station
	DNS        netip.Addr   // DNS server handed to the station
}

// auth mode of the network
func (n Network) auth() AuthMode {
	if n.Passphrase == "" {
		return AuthOpen
	}
	return AuthWPA2PSK
}

//----------------------------------------------------------------------

// SimNetif is a network interface of the simulated radio.
type SimNetif struct {
	mu    mutex
	name  string
	addr  netip.Prefix
	dns   netip.Addr
	napt  bool
	onDNS func(netip.Addr)
}

// Name of the interface
func (n *SimNetif) Name() string {
	return n.name
}

// Addr of the interface
func (n *SimNetif) Addr() netip.Prefix {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

// DNS server of the interface
func (n *SimNetif) DNS() netip.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dns
}

// SetDNS sets the DNS server of the interface.
func (n *SimNetif) SetDNS(dns netip.Addr) error {
	n.mu.Lock()
	n.dns = dns
	hook := n.onDNS
	n.mu.Unlock()
	if hook != nil {
		hook(dns)
	}
	return nil
}

// EnableNAPT switches address translation on or off.
func (n *SimNetif) EnableNAPT(on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.napt = on
	return nil
}

// NAPT returns true if address translation is enabled.
func (n *SimNetif) NAPT() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.napt
}

// set interface address and DNS server
func (n *SimNetif) bind(addr netip.Prefix, dns netip.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addr, n.dns = addr, dns
}

//----------------------------------------------------------------------

// SimRadio is an in-process AP+STA radio. The station joins one of the
// known upstream networks; AP clients are simulated with Associate and
// get their configuration from the AP's DHCP server.
type SimRadio struct {
	mu       mutex
	networks map[string]Network
	failures int
	connects int
	ap       *SimNetif
	sta      *SimNetif
	dhcp     *DHCPServer
	apCfg    APConfig
	staCfg   STAConfig
	loop     *EventLoop
	clients  map[string]bool
	ready    bool
}

// NewSimRadio creates a radio whose AP uses apAddr and whose station can
// reach the given networks.
func NewSimRadio(apAddr netip.Prefix, networks ...Network) *SimRadio {
	r := &SimRadio{
		networks: make(map[string]Network),
		ap:       &SimNetif{name: "ap", addr: apAddr},
		sta:      &SimNetif{name: "sta"},
		dhcp:     NewDHCPServer(apAddr),
		clients:  make(map[string]bool),
	}
	r.ap.onDNS = r.dhcp.SetDNS
	for _, n := range networks {
		r.networks[n.SSID] = n
	}
	return r
}

// FailJoins lets the next n connection attempts fail.
func (r *SimRadio) FailJoins(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

// Connects returns the number of connection attempts.
func (r *SimRadio) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

// DHCP returns the DHCP server of the access point.
func (r *SimRadio) DHCP() *DHCPServer {
	return r.dhcp
}

// Configure both interfaces.
func (r *SimRadio) Configure(ap APConfig, sta STAConfig) error {
	cfg := WiFiConfig{AP: ap, STA: sta}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apCfg, r.staCfg = ap, sta
	r.ready = true
	return nil
}

// Start the radio: the AP comes up, then the station.
func (r *SimRadio) Start(loop *EventLoop) error {
	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return errNotConfigured
	}
	r.loop = loop
	r.mu.Unlock()

	if err := loop.Post(Event{Base: WiFiEvent, ID: APStart}); err != nil {
		return err
	}
	return loop.Post(Event{Base: WiFiEvent, ID: STAStart})
}

// Connect the station to the configured network.
func (r *SimRadio) Connect() error {
	r.mu.Lock()
	if r.loop == nil {
		r.mu.Unlock()
		return errNotStarted
	}
	r.connects++
	loop := r.loop
	up, known := r.networks[r.staCfg.SSID]
	reason := ""
	switch {
	case r.failures > 0:
		r.failures--
		reason = reasonNoAP
	case !known:
		reason = reasonNoAP
	case up.Passphrase != r.staCfg.Passphrase:
		reason = reasonAuthFail
	case up.auth() < r.staCfg.AuthThreshold:
		reason = reasonThreshold
	}
	r.mu.Unlock()

	if reason != "" {
		return loop.Post(Event{Base: WiFiEvent, ID: STADisconnected, Reason: reason})
	}
	r.sta.bind(up.Addr, up.DNS)
	if err := loop.Post(Event{Base: WiFiEvent, ID: STAConnected}); err != nil {
		return err
	}
	return loop.Post(Event{Base: IPEvent, ID: STAGotIP, Addr: up.Addr, DNS: up.DNS})
}

// Associate a client with the access point.
func (r *SimRadio) Associate(mac net.HardwareAddr) error {
	r.mu.Lock()
	if r.loop == nil {
		r.mu.Unlock()
		return errNotStarted
	}
	key := mac.String()
	if !r.clients[key] && len(r.clients) >= r.apCfg.MaxConn {
		r.mu.Unlock()
		return errAPFull
	}
	r.clients[key] = true
	loop := r.loop
	r.mu.Unlock()
	return loop.Post(Event{Base: WiFiEvent, ID: APStaConnected, MAC: mac})
}

// AP interface
func (r *SimRadio) AP() Netif {
	return r.ap
}

// STA interface
func (r *SimRadio) STA() Netif {
	return r.sta
}
