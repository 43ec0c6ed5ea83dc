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
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// controlPage is served unchanged on every request; it does not reflect
// the LED state.
const controlPage = `<!DOCTYPE html>
<html>
<head><title>LED Control</title></head>
<body>
<h1>LED Control</h1>
<button onclick="fetch('/toggle')">Toggle LED</button>
</body>
</html>
`

// LED is a toggleable output pin. The state starts off and is not
// persisted.
type LED struct {
	mu   mutex
	gpio GPIO
	pin  Pin
	on   bool
}

// NewLED configures pin as output.
func NewLED(g GPIO, pin Pin) (*LED, error) {
	err := g.Configure(PinConfig{
		Mask:      pin.Mask(),
		Direction: Output,
	})
	if err != nil {
		return nil, err
	}
	return &LED{gpio: g, pin: pin}, nil
}

// Toggle flips the LED and returns the new state.
func (l *LED) Toggle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = !l.on
	l.gpio.Set(l.pin, l.on)
	return l.on
}

// State returns true if the LED is on.
func (l *LED) State() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

//----------------------------------------------------------------------

// NewControlHandler returns the handler for the control page:
//
//	GET /        control page
//	GET /toggle  toggle the LED, respond "OK"
func NewControlHandler(led *LED, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", strconv.Itoa(len(controlPage)))
		_, _ = w.Write([]byte(controlPage))
	})
	mux.HandleFunc("GET /toggle", func(w http.ResponseWriter, r *http.Request) {
		on := led.Toggle()
		log.Info("led toggled", slog.String("state", onOff(on)))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})
	return logRequests(mux, log)
}

// logRequests logs every request at debug level.
func logRequests(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("duration", time.Since(start)))
	})
}

// ServeControl serves h on lst until ctx is done.
func ServeControl(ctx context.Context, lst net.Listener, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Info("http server listening", slog.String("addr", lst.Addr().String()))
	if err := srv.Serve(lst); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
