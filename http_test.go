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
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLED(t *testing.T) (*LED, *SimGPIO) {
	t.Helper()
	g := NewSimGPIO(testValid)
	led, err := NewLED(g, testLED)
	require.NoError(t, err)
	return led, g
}

func TestControlPage(t *testing.T) {
	led, _ := newTestLED(t)
	h := NewControlHandler(led, discardLogger())

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec
	}
	first := get()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "text/html", first.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(controlPage)), first.Header().Get("Content-Length"))
	assert.Equal(t, controlPage, first.Body.String())
	assert.Contains(t, first.Body.String(), "fetch('/toggle')")

	// the page does not depend on the LED state
	led.Toggle()
	assert.Equal(t, first.Body.String(), get().Body.String())
}

func TestControlToggle(t *testing.T) {
	led, g := newTestLED(t)
	h := NewControlHandler(led, discardLogger())

	toggle := func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/toggle", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	}
	assert.False(t, led.State())
	toggle()
	assert.True(t, led.State())
	assert.True(t, g.Get(testLED))
	toggle()
	assert.False(t, led.State())
	assert.False(t, g.Get(testLED))
}

func TestControlRouting(t *testing.T) {
	led, _ := newTestLED(t)
	h := NewControlHandler(led, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/toggle", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, led.State())
}

func TestLEDConcurrentToggle(t *testing.T) {
	led, g := newTestLED(t)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			led.Toggle()
		}()
	}
	wg.Wait()
	// an even number of toggles restores the state
	assert.False(t, led.State())
	assert.False(t, g.Get(testLED))
}

func TestServeControl(t *testing.T) {
	led, _ := newTestLED(t)
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeControl(ctx, lst, NewControlHandler(led, discardLogger()), discardLogger())
	}()

	resp, err := http.Get("http://" + lst.Addr().String() + "/toggle")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
	assert.True(t, led.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
