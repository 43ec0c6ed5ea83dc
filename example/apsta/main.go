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

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bfix/ledlink"
)

// Configuration file and WiFi credentials (set at link time)
var (
	ConfigFile = "ledlink.yaml"
	STASSID    string
	STAPasswd  string
	APSSID     string
	APPasswd   string
)

// bring up the access point and station, share the uplink and serve the
// LED control page
func main() {
	console := ledlink.ConsoleWriter()
	log := slog.New(slog.NewTextHandler(console, nil))

	cfg, err := loadConfig()
	if err == nil {
		var l *slog.Logger
		if l, err = ledlink.NewLogger(cfg.Logger, console); err == nil {
			log = l
		}
	}
	if err != nil {
		ledlink.Halt(nil, ledlink.Fail(ledlink.StatCFG, err), log)
	}

	// access device
	dev, err := ledlink.InitDevice(*cfg, log)
	if err != nil {
		ledlink.Halt(nil, ledlink.Fail(ledlink.StatDEV, err), log)
	}
	state := ledlink.NewStatus(dev)
	defer state.Trap(30 * time.Second)

	if err = run(context.Background(), dev, cfg, log); err != nil {
		ledlink.Halt(state, err, log)
	}
}

// load configuration and apply link-time credentials
func loadConfig() (*ledlink.Config, error) {
	cfg, err := ledlink.LoadConfig(ledlink.GetEnv("LEDLINK_CONFIG", ConfigFile))
	if err != nil {
		return nil, err
	}
	set := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	set(&cfg.WiFi.STA.SSID, STASSID)
	set(&cfg.WiFi.STA.Passphrase, STAPasswd)
	set(&cfg.WiFi.AP.SSID, APSSID)
	set(&cfg.WiFi.AP.Passphrase, APPasswd)
	return cfg, cfg.Validate()
}

func run(ctx context.Context, dev ledlink.Device, cfg *ledlink.Config, log *slog.Logger) error {
	defer dev.Close()

	// storage
	if err := ledlink.InitNVS(dev.Storage()); err != nil {
		return ledlink.Fail(ledlink.StatNVS, err)
	}

	// user LED
	led, err := ledlink.NewLED(dev.GPIO(), cfg.Pins.LED)
	if err != nil {
		return ledlink.Fail(ledlink.StatGPIO, err)
	}

	// bring up AP and station
	loop := ledlink.NewEventLoop("default", 32)
	go loop.Run(ctx)
	up := ledlink.NewUplink(dev.Radio(), loop, cfg.WiFi, log)
	if err = up.Start(); err != nil {
		return ledlink.Fail(ledlink.StatWIFI, err)
	}
	res := up.Wait(ctx, cfg.ConnectTimeout)
	if res.State == ledlink.Connected {
		if err = up.Share(res); err != nil {
			return ledlink.Fail(ledlink.StatNAT, err)
		}
	} else {
		log.Warn("no uplink, running access point only", slog.String("err", res.Err.Error()))
	}

	// control page
	lst, err := dev.Listen(cfg.HTTPPort)
	if err != nil {
		return ledlink.Fail(ledlink.StatLISTEN, err)
	}

	// status namespace
	if cfg.NinepPort != 0 {
		ns, err := ledlink.NewStatusNamespace(ledlink.StatusSource{
			Name:   cfg.MDNSName,
			LED:    led,
			Uplink: up,
			AP:     dev.Radio().AP(),
			GPIO:   dev.GPIO(),
			Pins:   cfg.Pins.LED.Mask(),
		})
		if err != nil {
			return ledlink.Fail(ledlink.StatSRV, err)
		}
		nlst, err := dev.Listen(cfg.NinepPort)
		if err != nil {
			return ledlink.Fail(ledlink.StatLISTEN, err)
		}
		go func() {
			if err := ledlink.ServeNinep(ctx, nlst, ns, log); err != nil {
				log.Warn("9p server stopped", slog.String("err", err.Error()))
			}
		}()
	}

	if cfg.MDNSName != "" {
		if err = ledlink.Advertise(ctx, cfg.MDNSName, cfg.HTTPPort, log); err != nil {
			log.Warn("mdns advertisement failed", slog.String("err", err.Error()))
		}
	}

	h := ledlink.NewControlHandler(led, log)
	return ledlink.Fail(ledlink.StatHTTP, ledlink.ServeControl(ctx, lst, h, log))
}
