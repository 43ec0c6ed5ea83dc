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
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3"
)

// edge wait granularity of interrupt watchers
const watchPeriod = 100 * time.Millisecond

// PeriphGPIO drives GPIO pins through periph.io (Raspberry Pi and other
// boards supported by periph host drivers). Pins are addressed by their
// "GPIO<n>" names. Edge interrupts are delivered by a watcher goroutine per
// pin that blocks in WaitForEdge.
type PeriphGPIO struct {
	mu    mutex
	valid Mask
	pins  map[Pin]gpio.PinIO
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewPeriphGPIO initializes the periph host drivers.
func NewPeriphGPIO(valid Mask) (*PeriphGPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphGPIO{
		valid: valid,
		pins:  make(map[Pin]gpio.PinIO),
		stop:  make(chan struct{}),
	}, nil
}

// Has returns true if the host exposes the pin.
func (g *PeriphGPIO) Has(p Pin) bool {
	_, err := g.lookup(p)
	return err == nil
}

// lookup the periph pin for a GPIO number.
func (g *PeriphGPIO) lookup(p Pin) (gpio.PinIO, error) {
	if !g.valid.Has(p) {
		return nil, errInvalidPin
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if line, ok := g.pins[p]; ok {
		return line, nil
	}
	line := gpioreg.ByName(fmt.Sprintf("GPIO%d", p))
	if line == nil {
		return nil, errInvalidPin
	}
	g.pins[p] = line
	return line, nil
}

// Configure pins in the mask.
func (g *PeriphGPIO) Configure(cfg PinConfig) error {
	if err := cfg.check(); err != nil {
		return err
	}
	for _, p := range cfg.Mask.Pins() {
		line, err := g.lookup(p)
		if err != nil {
			return fmt.Errorf("GPIO%d: %w", p, err)
		}
		if cfg.Direction == Output {
			err = line.Out(gpio.Low)
		} else {
			pull := gpio.Float
			switch {
			case cfg.PullUp:
				pull = gpio.PullUp
			case cfg.PullDown:
				pull = gpio.PullDown
			}
			err = line.In(pull, periphEdge(cfg.Trigger))
		}
		if err != nil {
			return fmt.Errorf("GPIO%d: %w", p, err)
		}
	}
	return nil
}

// Get the level of a pin.
func (g *PeriphGPIO) Get(p Pin) bool {
	g.mu.Lock()
	line, ok := g.pins[p]
	g.mu.Unlock()
	return ok && line.Read() == gpio.High
}

// Set the level of an output pin.
func (g *PeriphGPIO) Set(p Pin, level bool) {
	g.mu.Lock()
	line, ok := g.pins[p]
	g.mu.Unlock()
	if ok {
		_ = line.Out(gpio.Level(level))
	}
}

// SetInterrupt starts an edge watcher for an input pin.
func (g *PeriphGPIO) SetInterrupt(p Pin, t Trigger, handler func(Pin)) error {
	if t == TriggerNone || handler == nil {
		return errNoTrigger
	}
	line, err := g.lookup(p)
	if err != nil {
		return err
	}
	if err = line.In(line.Pull(), periphEdge(t)); err != nil {
		return fmt.Errorf("GPIO%d: %w", p, err)
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-g.stop:
				return
			default:
			}
			if line.WaitForEdge(watchPeriod) {
				handler(p)
			}
		}
	}()
	return nil
}

// Dump pin states of all host pins in mask.
func (g *PeriphGPIO) Dump(w io.Writer, mask Mask) error {
	for _, p := range (mask & g.valid).Pins() {
		line, err := g.lookup(p)
		if err != nil {
			continue
		}
		_, err = fmt.Fprintf(w, "GPIO[%d]| %-8s | func: %s | pull: %s | level: %s\n",
			p, line.Name(), pinFunction(line), line.Pull(), line.Read())
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops all edge watchers and halts the used pins.
func (g *PeriphGPIO) Close() error {
	g.once.Do(func() { close(g.stop) })
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, line := range g.pins {
		_ = line.Halt()
	}
	return nil
}

// current function of a pin; drivers without PinFunc only report a name.
func pinFunction(p pin.Pin) string {
	if pf, ok := p.(pin.PinFunc); ok {
		return string(pf.Func())
	}
	return p.Function()
}

// map interrupt trigger to periph edge detection.
func periphEdge(t Trigger) gpio.Edge {
	switch t {
	case TriggerRising:
		return gpio.RisingEdge
	case TriggerFalling:
		return gpio.FallingEdge
	case TriggerAnyEdge:
		return gpio.BothEdges
	}
	return gpio.NoEdge
}
