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
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// nvsHeader is the head of a partition file.
type nvsHeader struct {
	Version int `yaml:"version"`
	Pages   int `yaml:"pages"`
}

// FileNVS is a partition backed by a file on the host.
type FileNVS struct {
	path string
}

// NewFileNVS uses the partition file at path.
func NewFileNVS(path string) *FileNVS {
	return &FileNVS{path: path}
}

// Init reads the partition header; a missing file is formatted.
func (f *FileNVS) Init() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return f.format()
	}
	if err != nil {
		return err
	}
	var hdr nvsHeader
	if err = yaml.Unmarshal(data, &hdr); err != nil {
		// unreadable header: treat as foreign layout
		return fmt.Errorf("%w (%s)", ErrNewVersion, err.Error())
	}
	return checkNVS(hdr.Version, hdr.Pages)
}

// Erase removes the partition file.
func (f *FileNVS) Erase() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// write a fresh partition header.
func (f *FileNVS) format() error {
	data, err := yaml.Marshal(&nvsHeader{
		Version: nvsVersion,
		Pages:   nvsPages,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}
