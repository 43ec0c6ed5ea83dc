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

// ConfigFile to load (host only; set at link time or by LEDLINK_CONFIG)
var ConfigFile = "ledlink.yaml"

// mirror the button level on the LED
func main() {
	console := ledlink.ConsoleWriter()
	log := slog.New(slog.NewTextHandler(console, nil))

	cfg, err := ledlink.LoadConfig(ledlink.GetEnv("LEDLINK_CONFIG", ConfigFile))
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

func run(ctx context.Context, dev ledlink.Device, cfg *ledlink.Config, log *slog.Logger) error {
	defer dev.Close()

	g := dev.GPIO()
	m, err := ledlink.ConfigureMirror(g, cfg.Pins.LED, cfg.Pins.Button, log)
	if err != nil {
		return ledlink.Fail(ledlink.StatGPIO, err)
	}
	if err = g.Dump(ledlink.ConsoleWriter(), cfg.Pins.Valid); err != nil {
		log.Warn("GPIO dump failed", slog.String("err", err.Error()))
	}
	go m.Run(ctx)

	// the interrupt handler does all the work
	for ctx.Err() == nil {
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}
