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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Wi-Fi errors
var (
	ErrRetryExhausted = errors.New("station retries exhausted")
	ErrConnectTimeout = errors.New("station connect timed out")
	errNotConnected   = errors.New("uplink not connected")
	errNotStarted     = errors.New("radio not started")
	errNoSSID         = errors.New("missing SSID")
	errPassphrase     = errors.New("WPA2 passphrase must have 8..63 characters")
	errChannel        = errors.New("AP channel out of range 1..13")
	errMaxConn        = errors.New("AP client limit out of range 1..10")
	errAuthMode       = errors.New("unknown auth mode")
)

// AuthMode of a Wi-Fi network
type AuthMode uint8

// Supported auth modes (ordered by strength)
const (
	AuthOpen AuthMode = iota
	AuthWPA2PSK
)

func (a AuthMode) String() string {
	if a == AuthWPA2PSK {
		return "wpa2-psk"
	}
	return "open"
}

// MarshalText implements encoding.TextMarshaler
func (a AuthMode) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AuthMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "open", "":
		*a = AuthOpen
	case "wpa2-psk", "wpa2", "wpa2_psk":
		*a = AuthWPA2PSK
	default:
		return fmt.Errorf("%w: %q", errAuthMode, text)
	}
	return nil
}

// STAConfig is the remote network the station joins.
type STAConfig struct {
	SSID          string   `yaml:"ssid"`
	Passphrase    string   `yaml:"passphrase"`
	MaxRetry      int      `yaml:"max_retry"`
	AuthThreshold AuthMode `yaml:"auth_threshold"`
}

// APConfig is the network advertised by the access point.
type APConfig struct {
	SSID       string   `yaml:"ssid"`
	Passphrase string   `yaml:"passphrase"`
	Channel    int      `yaml:"channel"`
	MaxConn    int      `yaml:"max_conn"`
	Auth       AuthMode `yaml:"auth"`
}

// WiFiConfig of both interfaces
type WiFiConfig struct {
	STA STAConfig `yaml:"sta"`
	AP  APConfig  `yaml:"ap"`
}

// Normalize forces an AP without passphrase to open auth.
func (c *WiFiConfig) Normalize() {
	if c.AP.Passphrase == "" {
		c.AP.Auth = AuthOpen
	}
}

// Validate the configuration.
func (c *WiFiConfig) Validate() error {
	if c.AP.SSID == "" || c.STA.SSID == "" {
		return errNoSSID
	}
	if c.AP.Auth == AuthWPA2PSK && !validPassphrase(c.AP.Passphrase) {
		return fmt.Errorf("ap: %w", errPassphrase)
	}
	if c.STA.Passphrase != "" && !validPassphrase(c.STA.Passphrase) {
		return fmt.Errorf("sta: %w", errPassphrase)
	}
	if c.AP.Channel < 1 || c.AP.Channel > 13 {
		return errChannel
	}
	if c.AP.MaxConn < 1 || c.AP.MaxConn > 10 {
		return errMaxConn
	}
	if c.STA.MaxRetry < 0 {
		return fmt.Errorf("negative max_retry %d", c.STA.MaxRetry)
	}
	return nil
}

func validPassphrase(s string) bool {
	return len(s) >= 8 && len(s) <= 63
}

//----------------------------------------------------------------------

// Radio is the Wi-Fi driver of a device running in AP+STA mode.
type Radio interface {
	// Configure both interfaces before Start.
	Configure(ap APConfig, sta STAConfig) error
	// Start the driver; events are posted to the loop.
	Start(loop *EventLoop) error
	// Connect the station. The outcome is posted as STAGotIP or
	// STADisconnected.
	Connect() error
	// AP interface
	AP() Netif
	// STA interface
	STA() Netif
}

// Netif is a network interface of the radio.
type Netif interface {
	Name() string
	Addr() netip.Prefix
	// DNS server used (STA) or offered to DHCP clients (AP).
	DNS() netip.Addr
	SetDNS(dns netip.Addr) error
	// EnableNAPT translates traffic from this interface's subnet to the
	// uplink.
	EnableNAPT(on bool) error
}

//----------------------------------------------------------------------

// Connectivity is the outcome of the station bring-up.
type Connectivity uint8

// Outcomes
const (
	Connected Connectivity = iota
	Failed
)

func (c Connectivity) String() string {
	if c == Connected {
		return "connected"
	}
	return "failed"
}

// String renders the result for status reports.
func (r Result) String() string {
	if r.State == Connected {
		return fmt.Sprintf("connected %s dns %s", r.Addr, r.DNS)
	}
	if r.Err != nil {
		return "failed: " + r.Err.Error()
	}
	return "failed"
}

// Result of the station bring-up.
type Result struct {
	State Connectivity
	Addr  netip.Prefix
	DNS   netip.Addr
	Err   error
}

// Signal is a one-shot result: the first delivery wins, later ones are
// dropped. Any number of waiters see the same result.
type Signal struct {
	once sync.Once
	done chan struct{}
	res  Result
}

// NewSignal creates an undelivered signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Deliver the result. Returns false if a result was delivered before.
func (s *Signal) Deliver(r Result) (ok bool) {
	s.once.Do(func() {
		s.res = r
		close(s.done)
		ok = true
	})
	return
}

// Done returns a channel closed on delivery.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Peek returns the result if it was delivered.
func (s *Signal) Peek() (Result, bool) {
	select {
	case <-s.done:
		return s.res, true
	default:
		return Result{}, false
	}
}

// Wait for the result or the end of ctx.
func (s *Signal) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

//----------------------------------------------------------------------

// Uplink brings up the AP+STA link and shares the station uplink with
// the access point clients.
type Uplink struct {
	radio   Radio
	loop    *EventLoop
	cfg     WiFiConfig
	retries atomic.Int32
	signal  *Signal
	log     *slog.Logger
}

// NewUplink registers the Wi-Fi and IP event handlers on the loop.
func NewUplink(radio Radio, loop *EventLoop, cfg WiFiConfig, log *slog.Logger) *Uplink {
	cfg.Normalize()
	u := &Uplink{
		radio:  radio,
		loop:   loop,
		cfg:    cfg,
		signal: NewSignal(),
		log:    log,
	}
	loop.Handle(WiFiEvent, AnyID, u.onWiFi)
	loop.Handle(IPEvent, STAGotIP, u.onGotIP)
	return u
}

// Start configures and starts the radio.
func (u *Uplink) Start() error {
	if err := u.radio.Configure(u.cfg.AP, u.cfg.STA); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}
	if err := u.radio.Start(u.loop); err != nil {
		return fmt.Errorf("start radio: %w", err)
	}
	u.log.Info("wifi started",
		slog.String("ap", u.cfg.AP.SSID),
		slog.Int("channel", u.cfg.AP.Channel),
		slog.String("auth", u.cfg.AP.Auth.String()),
		slog.String("sta", u.cfg.STA.SSID))
	return nil
}

// Retries returns the number of reconnects since the last address
// acquisition.
func (u *Uplink) Retries() int {
	return int(u.retries.Load())
}

// Signal returns the connectivity signal.
func (u *Uplink) Signal() *Signal {
	return u.signal
}

// Wi-Fi event handler
func (u *Uplink) onWiFi(ev Event) {
	switch ev.ID {
	case APStaConnected:
		u.log.Info("station joined", slog.String("mac", ev.MAC.String()))
	case APStaDisconnected:
		u.log.Info("station left", slog.String("mac", ev.MAC.String()))
	case STAStart:
		u.connect()
	case STADisconnected:
		if int(u.retries.Load()) < u.cfg.STA.MaxRetry {
			n := u.retries.Add(1)
			u.log.Info("retry to connect to the AP",
				slog.Int("attempt", int(n)),
				slog.String("reason", ev.Reason))
			u.connect()
			return
		}
		u.log.Warn("connect to the AP failed", slog.String("reason", ev.Reason))
		u.signal.Deliver(Result{
			State: Failed,
			Err:   fmt.Errorf("%w after %d retries: %s", ErrRetryExhausted, u.Retries(), ev.Reason),
		})
	}
}

// IP event handler (address acquired)
func (u *Uplink) onGotIP(ev Event) {
	u.retries.Store(0)
	u.log.Info("got ip",
		slog.String("addr", ev.Addr.String()),
		slog.String("dns", ev.DNS.String()))
	u.signal.Deliver(Result{
		State: Connected,
		Addr:  ev.Addr,
		DNS:   ev.DNS,
	})
}

// request a connection; a refused request ends the bring-up.
func (u *Uplink) connect() {
	if err := u.radio.Connect(); err != nil {
		u.signal.Deliver(Result{
			State: Failed,
			Err:   fmt.Errorf("connect: %w", err),
		})
	}
}

// Wait blocks until the station connected or failed. A positive timeout
// bounds the wait; on expiry the bring-up is marked failed.
func (u *Uplink) Wait(ctx context.Context, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := u.signal.Wait(ctx)
	if err == nil {
		return res
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
	}
	u.signal.Deliver(Result{State: Failed, Err: err})
	// a result may have won the race against the deadline
	res, _ = u.signal.Wait(context.Background())
	return res
}

// Share the station uplink with AP clients: offer the station's DNS server
// via DHCP and enable NAPT on the AP interface. A radio that cannot run an
// access point leaves the device station-only.
func (u *Uplink) Share(res Result) error {
	if res.State != Connected {
		return errNotConnected
	}
	dns := res.DNS
	if !dns.IsValid() {
		dns = u.radio.STA().DNS()
	}
	ap := u.radio.AP()
	err := ap.SetDNS(dns)
	if err == nil {
		err = ap.EnableNAPT(true)
	}
	if errors.Is(err, errors.ErrUnsupported) {
		u.log.Warn("access point not supported, running station-only")
		return nil
	}
	if err != nil {
		return fmt.Errorf("share uplink on %s: %w", ap.Name(), err)
	}
	u.log.Info("uplink shared",
		slog.String("ap", ap.Addr().String()),
		slog.String("dns", dns.String()),
		slog.Bool("napt", true))
	return nil
}
