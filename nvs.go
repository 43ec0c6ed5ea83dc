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
)

// NVS errors that are recovered by erasing the partition.
var (
	ErrNoFreePages = errors.New("nvs: no free pages")
	ErrNewVersion  = errors.New("nvs: partition has a different layout version")
)

// partition layout version and page count of a fresh partition
const (
	nvsVersion = 2
	nvsPages   = 6
)

// NVS is the non-volatile storage of a device.
type NVS interface {
	Init() error
	Erase() error
}

// InitNVS initializes the storage. If the partition is full or has an
// incompatible layout it is erased and initialized once more; a second
// failure is returned.
func InitNVS(nvs NVS) error {
	err := nvs.Init()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNoFreePages) && !errors.Is(err, ErrNewVersion) {
		return fmt.Errorf("nvs init: %w", err)
	}
	if err = nvs.Erase(); err != nil {
		return fmt.Errorf("nvs erase: %w", err)
	}
	if err = nvs.Init(); err != nil {
		return fmt.Errorf("nvs init after erase: %w", err)
	}
	return nil
}

// check a partition header
func checkNVS(version, pages int) error {
	if version != nvsVersion {
		return ErrNewVersion
	}
	if pages <= 0 {
		return ErrNoFreePages
	}
	return nil
}

//----------------------------------------------------------------------

// MemNVS is a partition held in memory.
type MemNVS struct {
	mu      mutex
	Version int
	Pages   int
}

// NewMemNVS returns a freshly formatted in-memory partition.
func NewMemNVS() *MemNVS {
	return &MemNVS{
		Version: nvsVersion,
		Pages:   nvsPages,
	}
}

// Init checks the partition header.
func (m *MemNVS) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return checkNVS(m.Version, m.Pages)
}

// Erase formats the partition.
func (m *MemNVS) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Version, m.Pages = nvsVersion, nvsPages
	return nil
}
