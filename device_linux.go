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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
)

// LinuxDevice drives GPIO pins of the host through periph.io (falling back
// to simulated pins) and runs a simulated radio.
type LinuxDevice struct {
	gpio   GPIO
	nvs    NVS
	radio  *SimRadio
	status *Pin
}

// InitDevice initializes the host device.
func InitDevice(cfg Config, log *slog.Logger) (Device, error) {
	dev := new(LinuxDevice)

	pg, err := NewPeriphGPIO(cfg.Pins.Valid)
	if err == nil && !(pg.Has(cfg.Pins.LED) && pg.Has(cfg.Pins.Button)) {
		err = fmt.Errorf("GPIO%d/GPIO%d: %w", cfg.Pins.LED, cfg.Pins.Button, errInvalidPin)
	}
	if err != nil {
		log.Warn("host GPIO unavailable, using simulated pins", slog.String("err", err.Error()))
		dev.gpio = NewSimGPIO(cfg.Pins.Valid)
	} else {
		dev.gpio = pg
	}
	if cfg.Pins.Status != nil {
		p := *cfg.Pins.Status
		if err = dev.gpio.Configure(PinConfig{Mask: p.Mask(), Direction: Output}); err != nil {
			return nil, fmt.Errorf("status LED GPIO%d: %w", p, err)
		}
		dev.status = &p
	}
	dev.nvs = NewFileNVS(cfg.NVSPath)

	up := Network{
		SSID:       cfg.WiFi.STA.SSID,
		Passphrase: cfg.WiFi.STA.Passphrase,
	}
	if up.Addr, err = netip.ParsePrefix(cfg.Sim.Addr); err != nil {
		return nil, fmt.Errorf("sim addr: %w", err)
	}
	if up.DNS, err = netip.ParseAddr(cfg.Sim.DNS); err != nil {
		return nil, fmt.Errorf("sim dns: %w", err)
	}
	apAddr, err := netip.ParsePrefix(cfg.Sim.APAddr)
	if err != nil {
		return nil, fmt.Errorf("sim ap addr: %w", err)
	}
	dev.radio = NewSimRadio(apAddr, up)
	dev.radio.FailJoins(cfg.Sim.JoinFailures)
	log.Info("using simulated radio",
		slog.String("upstream", up.SSID),
		slog.String("ap", apAddr.String()))
	return dev, nil
}

// LED on or off (if a status pin is configured)
func (dev *LinuxDevice) LED(on bool) {
	if dev.status != nil {
		dev.gpio.Set(*dev.status, on)
	}
}

// GPIO bank of the host
func (dev *LinuxDevice) GPIO() GPIO {
	return dev.gpio
}

// Storage partition file
func (dev *LinuxDevice) Storage() NVS {
	return dev.nvs
}

// Radio (simulated)
func (dev *LinuxDevice) Radio() Radio {
	return dev.radio
}

// Listen returns a TCP listener on the given port.
func (dev *LinuxDevice) Listen(port uint16) (net.Listener, error) {
	ctx := context.Background()
	cfg := new(net.ListenConfig)
	return cfg.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
}

// Close stops the pin watchers of the host GPIO driver.
func (dev *LinuxDevice) Close() error {
	if c, ok := dev.gpio.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ConsoleWriter is the output of the device console.
func ConsoleWriter() io.Writer {
	return os.Stderr
}
