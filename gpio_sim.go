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
	"fmt"
	"io"
)

// simPin is the state of a simulated pin.
type simPin struct {
	cfg     PinConfig
	level   bool
	trigger Trigger
	handler func(Pin)
}

// SimGPIO is an in-memory GPIO bank (for testing and for hosts without
// usable pins). Input levels are driven with Drive.
type SimGPIO struct {
	mu    mutex
	valid Mask
	pins  map[Pin]*simPin
}

// NewSimGPIO creates a simulated GPIO bank with the given usable pins.
func NewSimGPIO(valid Mask) *SimGPIO {
	return &SimGPIO{
		valid: valid,
		pins:  make(map[Pin]*simPin),
	}
}

// Configure pins in the mask.
func (g *SimGPIO) Configure(cfg PinConfig) error {
	if err := cfg.check(); err != nil {
		return err
	}
	if cfg.Mask&^g.valid != 0 {
		return errInvalidPin
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range cfg.Mask.Pins() {
		sp, ok := g.pins[p]
		if !ok {
			sp = new(simPin)
			g.pins[p] = sp
		}
		sp.cfg = cfg
		sp.cfg.Mask = p.Mask()
		sp.trigger = cfg.Trigger
		if cfg.Direction == Input {
			// an open input settles at its pull level
			sp.level = cfg.PullUp
		}
	}
	return nil
}

// Get the level of a pin (false for unconfigured pins).
func (g *SimGPIO) Get(p Pin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sp, ok := g.pins[p]; ok {
		return sp.level
	}
	return false
}

// Set the level of an output pin. Writes to other pins are ignored.
func (g *SimGPIO) Set(p Pin, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sp, ok := g.pins[p]; ok && sp.cfg.Direction == Output {
		sp.level = level
	}
}

// SetInterrupt installs a handler on an input pin.
func (g *SimGPIO) SetInterrupt(p Pin, t Trigger, handler func(Pin)) error {
	if t == TriggerNone || handler == nil {
		return errNoTrigger
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sp, ok := g.pins[p]
	if !ok || sp.cfg.Direction != Input {
		return errPinNotInput
	}
	sp.trigger, sp.handler = t, handler
	return nil
}

// Drive an input pin to the given level from outside. If the transition
// matches the pin trigger, the handler runs synchronously before Drive
// returns.
func (g *SimGPIO) Drive(p Pin, level bool) {
	g.mu.Lock()
	sp, ok := g.pins[p]
	if !ok || sp.cfg.Direction != Input {
		g.mu.Unlock()
		return
	}
	old := sp.level
	sp.level = level
	handler := sp.handler
	fire := handler != nil && sp.trigger.fires(old, level)
	g.mu.Unlock()

	if fire {
		handler(p)
	}
}

// Dump pin configurations.
func (g *SimGPIO) Dump(w io.Writer, mask Mask) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range (mask & g.valid).Pins() {
		sp, ok := g.pins[p]
		if !ok {
			if _, err := fmt.Fprintf(w, "GPIO[%d]| unused\n", p); err != nil {
				return err
			}
			continue
		}
		_, err := fmt.Fprintf(w, "GPIO[%d]| %-6s | pullup: %t | pulldown: %t | intr: %s | level: %d\n",
			p, sp.cfg.Direction, sp.cfg.PullUp, sp.cfg.PullDown, sp.trigger, b2i(sp.level))
		if err != nil {
			return err
		}
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
