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
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUpstream = Network{
		SSID:       "otherapssid",
		Passphrase: "otherappassword",
		Addr:       netip.MustParsePrefix("192.168.1.50/24"),
		DNS:        netip.MustParseAddr("192.168.1.1"),
	}
	testAPAddr = netip.MustParsePrefix("192.168.4.1/24")
)

func testWiFiConfig(maxRetry int) WiFiConfig {
	cfg := DefaultConfig().WiFi
	cfg.STA.MaxRetry = maxRetry
	return cfg
}

// start a bring-up on a simulated radio and run it to completion
func bringUp(t *testing.T, cfg WiFiConfig, failJoins int) (*Uplink, *SimRadio, *EventLoop) {
	t.Helper()
	radio := NewSimRadio(testAPAddr, testUpstream)
	radio.FailJoins(failJoins)
	loop := NewEventLoop("test", 16)
	up := NewUplink(radio, loop, cfg, discardLogger())
	require.NoError(t, up.Start())
	drain(loop)
	return up, radio, loop
}

func TestUplinkConnects(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(5), 0)

	res, ok := up.Signal().Peek()
	require.True(t, ok)
	assert.Equal(t, Connected, res.State)
	assert.Equal(t, testUpstream.Addr, res.Addr)
	assert.Equal(t, testUpstream.DNS, res.DNS)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, radio.Connects())
	assert.Zero(t, up.Retries())
}

func TestUplinkRetries(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(5), 3)

	res, ok := up.Signal().Peek()
	require.True(t, ok)
	assert.Equal(t, Connected, res.State)
	assert.Equal(t, 4, radio.Connects())
	// got-IP resets the counter
	assert.Zero(t, up.Retries())
}

func TestUplinkRetryExhausted(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(2), 10)

	res, ok := up.Signal().Peek()
	require.True(t, ok)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrRetryExhausted)
	assert.Equal(t, 3, radio.Connects())
	assert.Equal(t, 2, up.Retries())
}

func TestUplinkNoRetry(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(0), 1)

	res, _ := up.Signal().Peek()
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, radio.Connects())
}

func TestUplinkWrongPassphrase(t *testing.T) {
	cfg := testWiFiConfig(1)
	cfg.STA.Passphrase = "wrongpassword"
	up, _, _ := bringUp(t, cfg, 0)

	res, _ := up.Signal().Peek()
	assert.Equal(t, Failed, res.State)
	assert.Contains(t, res.Err.Error(), reasonAuthFail)
}

func TestUplinkAuthThreshold(t *testing.T) {
	open := testUpstream
	open.SSID, open.Passphrase = "cafe", ""
	radio := NewSimRadio(testAPAddr, open)
	loop := NewEventLoop("test", 16)
	cfg := testWiFiConfig(0)
	cfg.STA.SSID, cfg.STA.Passphrase = "cafe", ""
	up := NewUplink(radio, loop, cfg, discardLogger())
	require.NoError(t, up.Start())
	drain(loop)

	res, _ := up.Signal().Peek()
	assert.Equal(t, Failed, res.State)
	assert.Contains(t, res.Err.Error(), reasonThreshold)
}

func TestUplinkWaitTimeout(t *testing.T) {
	radio := NewSimRadio(testAPAddr, testUpstream)
	loop := NewEventLoop("test", 16)
	up := NewUplink(radio, loop, testWiFiConfig(5), discardLogger())
	require.NoError(t, up.Start())

	// events are never dispatched
	res := up.Wait(context.Background(), 20*time.Millisecond)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrConnectTimeout)

	// a late success does not override the outcome
	drain(loop)
	res, _ = up.Signal().Peek()
	assert.ErrorIs(t, res.Err, ErrConnectTimeout)
}

func TestUplinkWaitConnected(t *testing.T) {
	radio := NewSimRadio(testAPAddr, testUpstream)
	loop := NewEventLoop("test", 16)
	up := NewUplink(radio, loop, testWiFiConfig(5), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	require.NoError(t, up.Start())

	res := up.Wait(ctx, time.Second)
	assert.Equal(t, Connected, res.State)
}

func TestUplinkShare(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(5), 0)
	res, _ := up.Signal().Peek()
	require.NoError(t, up.Share(res))

	ap := radio.AP().(*SimNetif)
	assert.True(t, ap.NAPT())
	assert.Equal(t, radio.STA().DNS(), ap.DNS())

	// an AP client is offered the upstream DNS server
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	disc, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)
	raw, err := radio.DHCP().Handle(disc.ToBytes())
	require.NoError(t, err)
	offer, err := dhcpv4.FromBytes(raw)
	require.NoError(t, err)
	require.Len(t, offer.DNS(), 1)
	assert.Equal(t, net.IP(testUpstream.DNS.AsSlice()).String(), offer.DNS()[0].String())
}

func TestUplinkShareNotConnected(t *testing.T) {
	up, radio, _ := bringUp(t, testWiFiConfig(0), 1)
	res, _ := up.Signal().Peek()
	assert.ErrorIs(t, up.Share(res), errNotConnected)
	assert.False(t, radio.AP().(*SimNetif).NAPT())
}

// stationOnly is a radio without access point support.
type stationOnly struct {
	*SimRadio
}

type noNetif struct{}

func (noNetif) Name() string            { return "ap" }
func (noNetif) Addr() netip.Prefix      { return netip.Prefix{} }
func (noNetif) DNS() netip.Addr         { return netip.Addr{} }
func (noNetif) SetDNS(netip.Addr) error { return errors.ErrUnsupported }
func (noNetif) EnableNAPT(bool) error   { return errors.ErrUnsupported }
func (stationOnly) AP() Netif           { return noNetif{} }

func TestUplinkShareStationOnly(t *testing.T) {
	radio := stationOnly{NewSimRadio(testAPAddr, testUpstream)}
	loop := NewEventLoop("test", 16)
	up := NewUplink(radio, loop, testWiFiConfig(5), discardLogger())
	require.NoError(t, up.Start())
	drain(loop)

	res, _ := up.Signal().Peek()
	require.Equal(t, Connected, res.State)
	assert.NoError(t, up.Share(res))
}

func TestSignalFirstWins(t *testing.T) {
	s := NewSignal()
	_, ok := s.Peek()
	assert.False(t, ok)

	assert.True(t, s.Deliver(Result{State: Connected}))
	assert.False(t, s.Deliver(Result{State: Failed}))

	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Connected, res.State)
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSignalWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSignal().Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWiFiConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*WiFiConfig)
		want   error
	}{
		{"defaults", func(*WiFiConfig) {}, nil},
		{"no sta ssid", func(c *WiFiConfig) { c.STA.SSID = "" }, errNoSSID},
		{"no ap ssid", func(c *WiFiConfig) { c.AP.SSID = "" }, errNoSSID},
		{"short passphrase", func(c *WiFiConfig) { c.AP.Passphrase = "short" }, errPassphrase},
		{"channel", func(c *WiFiConfig) { c.AP.Channel = 14 }, errChannel},
		{"clients", func(c *WiFiConfig) { c.AP.MaxConn = 0 }, errMaxConn},
		{"open ap", func(c *WiFiConfig) { c.AP.Passphrase = "" }, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig().WiFi
			tc.modify(&cfg)
			cfg.Normalize()
			err := cfg.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestWiFiConfigNormalize(t *testing.T) {
	cfg := DefaultConfig().WiFi
	cfg.AP.Passphrase = ""
	cfg.Normalize()
	assert.Equal(t, AuthOpen, cfg.AP.Auth)
}

func TestAuthModeText(t *testing.T) {
	var a AuthMode
	require.NoError(t, a.UnmarshalText([]byte("wpa2-psk")))
	assert.Equal(t, AuthWPA2PSK, a)
	assert.ErrorIs(t, a.UnmarshalText([]byte("wep")), errAuthMode)
}

func TestSimRadioAssociate(t *testing.T) {
	cfg := testWiFiConfig(5)
	cfg.AP.MaxConn = 1
	_, radio, loop := bringUp(t, cfg, 0)

	require.NoError(t, radio.Associate(net.HardwareAddr{2, 0, 0, 0, 0, 1}))
	require.NoError(t, radio.Associate(net.HardwareAddr{2, 0, 0, 0, 0, 1}))
	assert.ErrorIs(t, radio.Associate(net.HardwareAddr{2, 0, 0, 0, 0, 2}), errAPFull)
	drain(loop)
}

func TestUplinkUnblocksAtGotIP(t *testing.T) {
	radio := NewSimRadio(testAPAddr, testUpstream)
	loop := NewEventLoop("test", 16)
	up := NewUplink(radio, loop, testWiFiConfig(5), discardLogger())
	up.retries.Store(3)

	loop.Dispatch(Event{Base: WiFiEvent, ID: STAConnected})
	_, ok := up.Signal().Peek()
	assert.False(t, ok)
	assert.Equal(t, 3, up.Retries())

	loop.Dispatch(Event{Base: IPEvent, ID: STAGotIP, Addr: testUpstream.Addr, DNS: testUpstream.DNS})
	res, ok := up.Signal().Peek()
	require.True(t, ok)
	assert.Equal(t, Connected, res.State)
	assert.Zero(t, up.Retries())
}
