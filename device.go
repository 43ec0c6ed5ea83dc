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

import "net"

// Indicator is a status LED.
type Indicator interface {
	// LED on or off (if applicable)
	LED(on bool)
}

// Device is a hardware abstraction
type Device interface {
	Indicator

	// GPIO bank of the board
	GPIO() GPIO
	// Storage is the non-volatile storage partition.
	Storage() NVS
	// Radio is the Wi-Fi driver.
	Radio() Radio
	// Listen for TCP connections on port. Depending on the device this
	// requires a connected radio.
	Listen(port uint16) (net.Listener, error)
	// Close releases the pins and stops interrupt delivery.
	Close() error
}
