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
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Error messages
var (
	errNoPins       = errors.New("empty pin mask")
	errInvalidPin   = errors.New("pin not usable as GPIO")
	errPinNotInput  = errors.New("pin not configured as input")
	errSamePin      = errors.New("led and button share a pin")
	errNoTrigger    = errors.New("no interrupt trigger")
	errPullConflict = errors.New("pull-up and pull-down both enabled")
)

// Pin is a GPIO number of the board.
type Pin uint8

// Mask returns the bit mask selecting the pin.
func (p Pin) Mask() Mask {
	return 1 << p
}

// Mask is a set of GPIO pins (bit n selects GPIO n).
type Mask uint64

// Pins returns the pins selected by the mask in ascending order.
func (m Mask) Pins() (pins []Pin) {
	for i := 0; i < 64; i++ {
		if m&(1<<i) != 0 {
			pins = append(pins, Pin(i))
		}
	}
	return
}

// Has returns true if the pin is part of the mask.
func (m Mask) Has(p Pin) bool {
	return p < 64 && m&p.Mask() != 0
}

// Direction of a pin
type Direction uint8

// Pin directions
const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Trigger selects the edges that raise a pin interrupt.
type Trigger uint8

// Interrupt triggers
const (
	TriggerNone Trigger = iota
	TriggerRising
	TriggerFalling
	TriggerAnyEdge
)

func (t Trigger) String() string {
	switch t {
	case TriggerRising:
		return "rising"
	case TriggerFalling:
		return "falling"
	case TriggerAnyEdge:
		return "any-edge"
	}
	return "none"
}

// fires returns true if a transition from old to level raises the trigger.
func (t Trigger) fires(old, level bool) bool {
	switch {
	case old == level:
		return false
	case level:
		return t == TriggerRising || t == TriggerAnyEdge
	default:
		return t == TriggerFalling || t == TriggerAnyEdge
	}
}

// PinConfig is applied once at startup to all pins in Mask.
type PinConfig struct {
	Mask      Mask
	Direction Direction
	Trigger   Trigger
	PullUp    bool
	PullDown  bool
}

// check a configuration for consistency.
func (c PinConfig) check() error {
	if c.Mask == 0 {
		return errNoPins
	}
	if c.PullUp && c.PullDown {
		return errPullConflict
	}
	return nil
}

// GPIO driver of a device.
//
// Get and Set are called from interrupt context and must neither block
// nor allocate.
type GPIO interface {
	// Configure all pins in the mask.
	Configure(cfg PinConfig) error
	// Get the input level of a pin.
	Get(p Pin) bool
	// Set the output level of a pin.
	Set(p Pin, level bool)
	// SetInterrupt installs an interrupt handler on an input pin.
	SetInterrupt(p Pin, t Trigger, handler func(Pin)) error
	// Dump the configuration of all pins in mask.
	Dump(w io.Writer, mask Mask) error
}

//----------------------------------------------------------------------

// Mirror copies the level of a button pin to a LED pin on every edge.
type Mirror struct {
	gpio   GPIO
	led    Pin
	button Pin
	edges  atomic.Uint32
	notify chan struct{}
	every  rate.Sometimes
	log    *slog.Logger
}

// ConfigureMirror sets up the LED as output and the button as input with
// pull-up and an any-edge interrupt bound to the mirror handler.
func ConfigureMirror(g GPIO, led, button Pin, log *slog.Logger) (*Mirror, error) {
	if led == button {
		return nil, errSamePin
	}
	m := &Mirror{
		gpio:   g,
		led:    led,
		button: button,
		notify: make(chan struct{}, 1),
		every:  rate.Sometimes{First: 1, Interval: 250 * time.Millisecond},
		log:    log,
	}
	err := g.Configure(PinConfig{
		Mask:      led.Mask(),
		Direction: Output,
	})
	if err != nil {
		return nil, fmt.Errorf("configure led GPIO%d: %w", led, err)
	}
	err = g.Configure(PinConfig{
		Mask:      button.Mask(),
		Direction: Input,
		Trigger:   TriggerAnyEdge,
		PullUp:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("configure button GPIO%d: %w", button, err)
	}
	if err = g.SetInterrupt(button, TriggerAnyEdge, m.isr); err != nil {
		return nil, fmt.Errorf("install handler on GPIO%d: %w", button, err)
	}
	return m, nil
}

// isr runs in interrupt context: register-level read/write only.
func (m *Mirror) isr(p Pin) {
	if p != m.button {
		return
	}
	m.gpio.Set(m.led, m.gpio.Get(m.button))
	m.edges.Add(1)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Edges returns the number of handled button edges.
func (m *Mirror) Edges() uint32 {
	return m.edges.Load()
}

// Run the deferred part of edge handling (logging) until ctx is done.
// Bursts of edges from a bouncing switch are collapsed into a single
// notification and log output is rate-limited.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.notify:
			on := m.gpio.Get(m.led)
			n := m.edges.Load()
			m.every.Do(func() {
				m.log.Info("led mirrors button",
					slog.Bool("on", on),
					slog.Uint64("edges", uint64(n)))
			})
		}
	}
}
