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
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logger dropping all output
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testLED    Pin = 2
	testButton Pin = 0
	testValid      = Mask(0xFF_0EEF_FFFF)
)

func TestMaskPins(t *testing.T) {
	m := Pin(0).Mask() | Pin(2).Mask() | Pin(39).Mask()
	assert.Equal(t, []Pin{0, 2, 39}, m.Pins())
	assert.True(t, m.Has(39))
	assert.False(t, m.Has(1))
	assert.False(t, m.Has(64))
	assert.Empty(t, Mask(0).Pins())
}

func TestTriggerFires(t *testing.T) {
	assert.True(t, TriggerAnyEdge.fires(false, true))
	assert.True(t, TriggerAnyEdge.fires(true, false))
	assert.False(t, TriggerAnyEdge.fires(true, true))
	assert.True(t, TriggerRising.fires(false, true))
	assert.False(t, TriggerRising.fires(true, false))
	assert.True(t, TriggerFalling.fires(true, false))
	assert.False(t, TriggerNone.fires(false, true))
}

func TestPinConfigCheck(t *testing.T) {
	g := NewSimGPIO(testValid)
	assert.ErrorIs(t, g.Configure(PinConfig{}), errNoPins)
	assert.ErrorIs(t, g.Configure(PinConfig{Mask: 1, PullUp: true, PullDown: true}), errPullConflict)
	assert.ErrorIs(t, g.Configure(PinConfig{Mask: Pin(20).Mask()}), errInvalidPin)
}

func TestMirrorFollowsButton(t *testing.T) {
	g := NewSimGPIO(testValid)
	m, err := ConfigureMirror(g, testLED, testButton, discardLogger())
	require.NoError(t, err)

	// button idles high (pull-up), LED starts low
	assert.True(t, g.Get(testButton))
	assert.False(t, g.Get(testLED))

	for _, level := range []bool{false, true, false, false, true} {
		g.Drive(testButton, level)
		assert.Equal(t, g.Get(testButton), g.Get(testLED))
	}
	// the repeated low level is no edge
	assert.Equal(t, uint32(4), m.Edges())
}

func TestMirrorIgnoresOtherPins(t *testing.T) {
	g := NewSimGPIO(testValid)
	m, err := ConfigureMirror(g, testLED, testButton, discardLogger())
	require.NoError(t, err)

	g.Set(testLED, true)
	m.isr(5)
	assert.True(t, g.Get(testLED))
	assert.Zero(t, m.Edges())
}

func TestMirrorSetupErrors(t *testing.T) {
	g := NewSimGPIO(testValid)
	_, err := ConfigureMirror(g, testLED, testLED, discardLogger())
	assert.ErrorIs(t, err, errSamePin)

	_, err = ConfigureMirror(g, 20, testButton, discardLogger())
	assert.ErrorIs(t, err, errInvalidPin)
	assert.Contains(t, err.Error(), "GPIO20")
}

func TestMirrorRun(t *testing.T) {
	g := NewSimGPIO(testValid)
	buf := new(syncBuffer)
	log := slog.New(slog.NewTextHandler(buf, nil))
	m, err := ConfigureMirror(g, testLED, testButton, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// a bouncing switch
	for i := 0; i < 20; i++ {
		g.Drive(testButton, i%2 == 0)
	}
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "led mirrors button")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Less(t, strings.Count(buf.String(), "led mirrors button"), 20)
}

func TestSimGPIODump(t *testing.T) {
	g := NewSimGPIO(testValid)
	_, err := ConfigureMirror(g, testLED, testButton, discardLogger())
	require.NoError(t, err)

	buf := new(strings.Builder)
	require.NoError(t, g.Dump(buf, testLED.Mask()|testButton.Mask()|Pin(1).Mask()))
	out := buf.String()
	assert.Contains(t, out, "GPIO[0]| input  | pullup: true")
	assert.Contains(t, out, "intr: any-edge")
	assert.Contains(t, out, "GPIO[1]| unused")
	assert.Contains(t, out, "GPIO[2]| output")
}

func TestSimGPIOSetInterrupt(t *testing.T) {
	g := NewSimGPIO(testValid)
	require.NoError(t, g.Configure(PinConfig{Mask: testLED.Mask(), Direction: Output}))
	assert.ErrorIs(t, g.SetInterrupt(testLED, TriggerRising, func(Pin) {}), errPinNotInput)
	assert.ErrorIs(t, g.SetInterrupt(testLED, TriggerNone, func(Pin) {}), errNoTrigger)
}
