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
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLED records switch-on events.
type countingLED struct {
	mu  sync.Mutex
	ons int
}

func (c *countingLED) LED(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.ons++
	}
}

func (c *countingLED) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ons
}

var fastTiming = blinkTiming{
	pause: 5 * time.Millisecond,
	long:  time.Millisecond,
	short: time.Millisecond,
	gap:   time.Millisecond,
}

func TestStatusQuietWhenOK(t *testing.T) {
	ind := new(countingLED)
	state := newStatus(ind, fastTiming)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ind.count())
	s, _ := state.Get()
	assert.Equal(t, StatOK, s)
}

func TestStatusBlinksCode(t *testing.T) {
	ind := new(countingLED)
	state := newStatus(ind, fastTiming)

	// 7 = one long and two short blinks, shown once
	state.Set(StatNAT, 1)
	require.Eventually(t, func() bool {
		s, _ := state.Get()
		return s == StatOK
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1+(StatNAT-5), ind.count())
}

func TestFail(t *testing.T) {
	assert.NoError(t, Fail(StatHTTP, nil))

	cause := errors.New("bind failed")
	err := Fail(StatLISTEN, cause)
	assert.ErrorIs(t, err, cause)
	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatLISTEN, se.Code)
}

func TestReport(t *testing.T) {
	buf := new(bytes.Buffer)
	log := slog.New(slog.NewTextHandler(buf, nil))
	state := newStatus(new(countingLED), fastTiming)

	Report(state, Fail(StatNVS, errors.New("flash")), log)
	s, n := state.Get()
	assert.Equal(t, StatNVS, s)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "status=")
	assert.Contains(t, buf.String(), "flash")

	Report(state, errors.New("plain"), log)
	s, _ = state.Get()
	assert.Equal(t, StatUNK, s)

	// without a status display
	Report(nil, Fail(StatCFG, errors.New("config")), log)
}
