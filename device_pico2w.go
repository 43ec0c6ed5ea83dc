//go:build rp2350

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
	"fmt"
	"io"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

// pause after a failed join before the next attempt
const joinPause = 2 * time.Second

// Error messages
var (
	errNoStack     = errors.New("network stack not up")
	errDHCPTimeout = errors.New("no DHCP reply")
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device // reference to device
	gpio  *machineGPIO
	nvs   *MemNVS
	radio *picoRadio
}

// InitDevice initializes the radio chip (needed for the on-board LED)
// and the pin bank.
func InitDevice(cfg Config, log *slog.Logger) (Device, error) {
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()

	wificfg := cyw43439.DefaultWifiConfig()
	wificfg.Logger = log
	log.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return nil, fmt.Errorf("cyw43439 init: %w", err)
	}
	log.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))

	dev.gpio = &machineGPIO{
		valid: cfg.Pins.Valid,
		cfg:   make(map[Pin]PinConfig),
	}
	dev.nvs = NewMemNVS()
	dev.radio = &picoRadio{
		dev:      dev.ref,
		hostname: cfg.MDNSName,
		sta:      &picoNetif{name: "sta"},
		ap:       unsupportedNetif("ap"),
		log:      log,
	}
	return dev, nil
}

// LED on or off (on-board LED on the radio chip)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// GPIO bank of the RP2350
func (dev *Pico2WDevice) GPIO() GPIO {
	return dev.gpio
}

// Storage partition (volatile)
func (dev *Pico2WDevice) Storage() NVS {
	return dev.nvs
}

// Radio is the CYW43439 in station mode.
func (dev *Pico2WDevice) Radio() Radio {
	return dev.radio
}

// Listen returns a TCP listener on the given port. The station must be
// connected.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	stack := dev.radio.portStack()
	if stack == nil {
		return nil, errNoStack
	}
	listener, err := stacks.NewTCPListener(stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  2048,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

// Close is a no-op; the radio chip stays up until reset.
func (dev *Pico2WDevice) Close() error {
	return nil
}

// ConsoleWriter is the serial console.
func ConsoleWriter() io.Writer {
	return machine.Serial
}

//----------------------------------------------------------------------

// machineGPIO drives RP2350 pins.
type machineGPIO struct {
	mu    mutex
	valid Mask
	cfg   map[Pin]PinConfig
}

// Configure pins in the mask.
func (g *machineGPIO) Configure(cfg PinConfig) error {
	if err := cfg.check(); err != nil {
		return err
	}
	if cfg.Mask&^g.valid != 0 {
		return errInvalidPin
	}
	mode := machine.PinOutput
	if cfg.Direction == Input {
		switch {
		case cfg.PullUp:
			mode = machine.PinInputPullup
		case cfg.PullDown:
			mode = machine.PinInputPulldown
		default:
			mode = machine.PinInput
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range cfg.Mask.Pins() {
		machine.Pin(p).Configure(machine.PinConfig{Mode: mode})
		g.cfg[p] = cfg
	}
	return nil
}

// Get the level of a pin.
func (g *machineGPIO) Get(p Pin) bool {
	return machine.Pin(p).Get()
}

// Set the level of a pin.
func (g *machineGPIO) Set(p Pin, level bool) {
	machine.Pin(p).Set(level)
}

// SetInterrupt installs a pin change interrupt.
func (g *machineGPIO) SetInterrupt(p Pin, t Trigger, handler func(Pin)) error {
	if t == TriggerNone || handler == nil {
		return errNoTrigger
	}
	var change machine.PinChange
	switch t {
	case TriggerRising:
		change = machine.PinRising
	case TriggerFalling:
		change = machine.PinFalling
	default:
		change = machine.PinToggle
	}
	return machine.Pin(p).SetInterrupt(change, func(machine.Pin) {
		handler(p)
	})
}

// Dump pin configurations.
func (g *machineGPIO) Dump(w io.Writer, mask Mask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range (mask & g.valid).Pins() {
		cfg, ok := g.cfg[p]
		if !ok {
			continue
		}
		_, err := fmt.Fprintf(w, "GPIO[%d]| %-6s | pullup: %t | pulldown: %t | intr: %s | level: %d\r\n",
			p, cfg.Direction, cfg.PullUp, cfg.PullDown, cfg.Trigger, b2i(machine.Pin(p).Get()))
		if err != nil {
			return err
		}
	}
	return nil
}

//----------------------------------------------------------------------

// picoNetif is the station interface.
type picoNetif struct {
	mu   mutex
	name string
	addr netip.Prefix
	dns  netip.Addr
}

func (n *picoNetif) Name() string { return n.name }

func (n *picoNetif) Addr() netip.Prefix {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

func (n *picoNetif) DNS() netip.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dns
}

func (n *picoNetif) SetDNS(dns netip.Addr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dns = dns
	return nil
}

func (n *picoNetif) EnableNAPT(bool) error { return errors.ErrUnsupported }

func (n *picoNetif) bind(addr netip.Prefix, dns netip.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addr, n.dns = addr, dns
}

// unsupportedNetif stands in for the access point the driver cannot run.
type unsupportedNetif string

func (n unsupportedNetif) Name() string            { return string(n) }
func (n unsupportedNetif) Addr() netip.Prefix      { return netip.Prefix{} }
func (n unsupportedNetif) DNS() netip.Addr         { return netip.Addr{} }
func (n unsupportedNetif) SetDNS(netip.Addr) error { return errors.ErrUnsupported }
func (n unsupportedNetif) EnableNAPT(bool) error   { return errors.ErrUnsupported }

//----------------------------------------------------------------------

// picoRadio joins the upstream network with the CYW43439 and runs DHCP
// on the seqs stack.
type picoRadio struct {
	mu       mutex
	dev      *cyw43439.Device
	cfg      STAConfig
	loop     *EventLoop
	stack    *stacks.PortStack
	dhcp     *stacks.DHCPClient
	sta      *picoNetif
	ap       unsupportedNetif
	hostname string
	log      *slog.Logger
}

// Configure the station; the AP configuration is ignored.
func (r *picoRadio) Configure(ap APConfig, sta STAConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = sta
	if ap.SSID != "" {
		r.log.Warn("access point mode not available, AP config ignored", slog.String("ssid", ap.SSID))
	}
	return nil
}

// Start the station.
func (r *picoRadio) Start(loop *EventLoop) error {
	r.mu.Lock()
	r.loop = loop
	r.mu.Unlock()
	return loop.Post(Event{Base: WiFiEvent, ID: STAStart})
}

// Connect joins the network in the background.
func (r *picoRadio) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop == nil {
		return errNotStarted
	}
	go r.join(r.cfg, r.loop)
	return nil
}

func (r *picoRadio) AP() Netif  { return r.ap }
func (r *picoRadio) STA() Netif { return r.sta }

func (r *picoRadio) portStack() *stacks.PortStack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stack
}

// join the network and acquire an address.
func (r *picoRadio) join(cfg STAConfig, loop *EventLoop) {
	logger := r.log
	if len(cfg.Passphrase) == 0 {
		logger.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		logger.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Passphrase)))
	}
	if err := r.dev.JoinWPA2(cfg.SSID, cfg.Passphrase); err != nil {
		logger.Error("wifi join failed", slog.String("err", err.Error()))
		time.Sleep(joinPause)
		_ = loop.Post(Event{Base: WiFiEvent, ID: STADisconnected, Reason: err.Error()})
		return
	}
	mac, _ := r.dev.HardwareAddr6()
	logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))
	_ = loop.Post(Event{Base: WiFiEvent, ID: STAConnected})

	addr, dns, err := r.requestAddr(mac)
	if err != nil {
		_ = loop.Post(Event{Base: WiFiEvent, ID: STADisconnected, Reason: err.Error()})
		return
	}
	r.sta.bind(addr, dns)
	_ = loop.Post(Event{Base: IPEvent, ID: STAGotIP, Addr: addr, DNS: dns})
}

// requestAddr brings up the stack (once) and performs a DHCP request.
func (r *picoRadio) requestAddr(mac [6]byte) (netip.Prefix, netip.Addr, error) {
	r.mu.Lock()
	if r.stack == nil {
		r.stack = stacks.NewPortStack(stacks.PortStackConfig{
			MAC:             mac,
			MaxOpenPortsUDP: 2,
			MaxOpenPortsTCP: 2,
			MTU:             mtu,
			Logger:          r.log,
		})
		r.dev.RecvEthHandle(r.stack.RecvEth)

		// Begin asynchronous packet handling.
		go nicLoop(r.dev, r.stack)
		r.dhcp = stacks.NewDHCPClient(r.stack, dhcp.DefaultClientPort)
	}
	stack, client := r.stack, r.dhcp
	r.mu.Unlock()

	err := client.BeginRequest(stacks.DHCPRequestConfig{
		Xid:      uint32(time.Now().Nanosecond()),
		Hostname: r.hostname,
	})
	if err != nil {
		return netip.Prefix{}, netip.Addr{}, err
	}
	for i := 0; client.State() != dhcp.StateBound; i++ {
		if i > 15 {
			return netip.Prefix{}, netip.Addr{}, errDHCPTimeout
		}
		r.log.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
	}
	var primaryDNS netip.Addr
	if dnsServers := client.DNSServers(); len(dnsServers) > 0 {
		primaryDNS = dnsServers[0]
	}
	ip := client.Offer()
	r.log.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(client.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("dns", primaryDNS.String()),
		slog.String("router", client.Router().String()),
		slog.Duration("lease", client.IPLeaseTime()),
	)
	stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
	return netip.PrefixFrom(ip, int(client.CIDRBits())), primaryDNS, nil
}

//======================================================================
// adapted from https://raw.githubusercontent.com/soypat/cyw43439,
// file '/examples/common/common.go'.
//======================================================================

const mtu = cyw43439.MTU

func nicLoop(dev *cyw43439.Device, Stack *stacks.PortStack) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		queue[i] = [mtu]byte{} // Not really necessary.
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		// Poll for incoming packets.
		gotPacket, err := dev.PollOne()
		if err != nil {
			println("poll error:", err.Error())
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			var err error
			buf := queue[i][:]
			lenBuf[i], err = Stack.HandleEth(buf[:])
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
