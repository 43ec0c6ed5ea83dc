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
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// status codes
const (
	StatUNK    = iota // unknown status (init)
	StatOK            // processing active
	StatDEV           // device failure
	StatNVS           // storage init failed
	StatGPIO          // pin configuration rejected
	StatWIFI          // radio configuration failed
	StatCONN          // station failed to connect
	StatNAT           // uplink sharing failed
	StatLISTEN        // failed to create listener
	StatHTTP          // http server failed
	StatSRV           // can't serve namespace
	StatCFG           // invalid configuration
	StatEXCP          // exception (panic) occured
)

// blink timing
type blinkTiming struct {
	pause, long, short, gap time.Duration
}

var defaultTiming = blinkTiming{
	pause: 5 * time.Second,
	long:  1000 * time.Millisecond,
	short: 150 * time.Millisecond,
	gap:   300 * time.Millisecond,
}

// Status handler.
// Blinks the current failure code on the status LED; nothing is shown
// while the state is StatOK.
type Status struct {
	ind    Indicator    // status LED
	curr   atomic.Int32 // current state
	repeat atomic.Int32 // current repeat counter
}

// NewStatus creates a new status display
func NewStatus(ind Indicator) *Status {
	return newStatus(ind, defaultTiming)
}

func newStatus(ind Indicator, t blinkTiming) (state *Status) {
	state = new(Status)
	state.ind = ind
	state.curr.Store(StatOK)
	go func() {
		// blink LED <state>; <repeat> times
		for {
			time.Sleep(t.pause)
			num := state.curr.Load()
			if num == StatOK {
				continue
			}
			for num > 5 {
				ind.LED(true)
				time.Sleep(t.long)
				ind.LED(false)
				time.Sleep(t.gap)
				num -= 5
			}
			for range num {
				ind.LED(true)
				time.Sleep(t.short)
				ind.LED(false)
				time.Sleep(t.short)
			}
			if state.repeat.Add(-1) == 0 {
				state.curr.Store(StatOK)
			}
		}
	}()
	return
}

// Set status and repeat <num> times (0: forever).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.repeat.Store(int32(num))
		state.curr.Store(int32(flag))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic)
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}

//----------------------------------------------------------------------

// StartupError is a fatal error during startup tagged with the status code
// to display.
type StartupError struct {
	Code int
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed (status %d): %v", e.Code, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Fail tags err with a status code; a nil err stays nil.
func Fail(code int, err error) error {
	if err == nil {
		return nil
	}
	return &StartupError{Code: code, Err: err}
}

// Report logs a fatal error and shows its status code. Errors without a
// code show StatUNK.
func Report(state *Status, err error, log *slog.Logger) {
	code := StatUNK
	var se *StartupError
	if errors.As(err, &se) {
		code = se.Code
	}
	log.Error("halted", slog.Int("status", code), slog.String("err", err.Error()))
	state.Set(code, 0)
}

// Halt reports a fatal error and blocks forever.
func Halt(state *Status, err error, log *slog.Logger) {
	Report(state, err, log)
	select {}
}
