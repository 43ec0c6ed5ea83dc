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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"git.sr.ht/~moody/ninep"
)

// Text is a file with fixed content.
type Text string

// Read returns the text.
func (t Text) Read() ([]byte, error) {
	return []byte(t), nil
}

// Render is a file whose content is produced on every read.
type Render func() ([]byte, error)

// Read renders the current content.
func (r Render) Read() ([]byte, error) {
	return r()
}

// StatusSource lists the live objects exported by the status namespace.
type StatusSource struct {
	Name   string  // device name
	LED    *LED    // user LED
	Uplink *Uplink // station bring-up
	AP     Netif   // access point interface
	GPIO   GPIO    // pin bank
	Pins   Mask    // pins listed in /gpio
}

// NewStatusNamespace builds the read-only tree
//
//	/name /led /gpio /net/uplink /net/ap
func NewStatusNamespace(src StatusSource) (*Namespace, error) {
	ns := NewNamespace("sys", "sys")
	files := []struct {
		path string
		impl File
	}{
		{"/name", Text(src.Name + "\n")},
		{"/led", Render(func() ([]byte, error) {
			return []byte(onOff(src.LED.State()) + "\n"), nil
		})},
		{"/gpio", Render(func() ([]byte, error) {
			buf := new(bytes.Buffer)
			err := src.GPIO.Dump(buf, src.Pins)
			return buf.Bytes(), err
		})},
		{"/net/uplink", Render(func() ([]byte, error) {
			res, ok := src.Uplink.Signal().Peek()
			if !ok {
				return []byte(fmt.Sprintf("pending (retries %d)\n", src.Uplink.Retries())), nil
			}
			return []byte(res.String() + "\n"), nil
		})},
		{"/net/ap", Render(func() ([]byte, error) {
			addr := src.AP.Addr()
			if !addr.IsValid() {
				return []byte("unavailable\n"), nil
			}
			return []byte(fmt.Sprintf("%s dns %s\n", addr, src.AP.DNS())), nil
		})},
	}
	if err := ns.NewDir("/net", 0555); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := ns.NewFile(f.path, 0444, f.impl); err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return ns, nil
}

// pause before retrying a failed accept
const acceptPause = 250 * time.Millisecond

// ServeNinep serves the namespace on all connections accepted from lst
// until ctx ends.
func ServeNinep(ctx context.Context, lst net.Listener, ns *Namespace, log *slog.Logger) error {
	go func() {
		<-ctx.Done()
		lst.Close()
	}()
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("9p accept failed", slog.String("err", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptPause):
			}
			continue
		}
		log.Debug("9p session", slog.String("remote", c.RemoteAddr().String()))
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		sc := &sessionConn{Conn: c, log: log}
		go srv.ServeIO(sc, sc)
	}
}

// sessionConn ends a 9P session on connection errors. The server library
// exits the process on a failed read or write, so errors never reach it:
// a failed read closes the connection and terminates the reading
// goroutine (its deferred cleanup stops the writer), a failed write
// closes the connection and drops the reply.
type sessionConn struct {
	net.Conn
	log  *slog.Logger
	once sync.Once
}

// Read from the client.
func (c *sessionConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		if n > 0 {
			return n, nil
		}
		c.close(err)
		runtime.Goexit()
	}
	return n, nil
}

// Write to the client.
func (c *sessionConn) Write(p []byte) (int, error) {
	if _, err := c.Conn.Write(p); err != nil {
		c.close(err)
	}
	return len(p), nil
}

func (c *sessionConn) close(err error) {
	c.once.Do(func() {
		c.log.Debug("9p session closed",
			slog.String("remote", c.RemoteAddr().String()),
			slog.String("err", err.Error()))
		c.Conn.Close()
	})
}
