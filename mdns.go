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
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

// Advertise the control page as "_http._tcp" service in the local domain
// until ctx ends.
func Advertise(ctx context.Context, name string, port uint16, log *slog.Logger) error {
	srv, err := zeroconf.Register(name, "_http._tcp", "local.", int(port),
		[]string{"path=/", "txtv=1"}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	log.Info("mdns service registered", slog.String("name", name), slog.Int("port", int(port)))
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	return nil
}
