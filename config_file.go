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
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a Raspberry Pi style host
const (
	defaultValidPins Mask   = 0x0FFF_FFFF // GPIO0..27
	defaultHTTPPort  uint16 = 8080
)

// LoadConfig reads a YAML configuration file over the defaults and applies
// LEDLINK_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides sets configuration values from LEDLINK_* variables.
func ApplyEnvOverrides(cfg *Config) error {
	cfg.WiFi.STA.SSID = GetEnv("LEDLINK_STA_SSID", cfg.WiFi.STA.SSID)
	cfg.WiFi.STA.Passphrase = GetEnv("LEDLINK_STA_PASSWORD", cfg.WiFi.STA.Passphrase)
	cfg.WiFi.AP.SSID = GetEnv("LEDLINK_AP_SSID", cfg.WiFi.AP.SSID)
	cfg.WiFi.AP.Passphrase = GetEnv("LEDLINK_AP_PASSWORD", cfg.WiFi.AP.Passphrase)
	cfg.Logger.Level = GetEnv("LEDLINK_LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Format = GetEnv("LEDLINK_LOG_FORMAT", cfg.Logger.Format)
	cfg.NVSPath = GetEnv("LEDLINK_NVS_PATH", cfg.NVSPath)
	cfg.MDNSName = GetEnv("LEDLINK_MDNS_NAME", cfg.MDNSName)

	if v := GetEnv("LEDLINK_STA_MAX_RETRY", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDLINK_STA_MAX_RETRY: %w", err)
		}
		cfg.WiFi.STA.MaxRetry = n
	}
	if v := GetEnv("LEDLINK_HTTP_PORT", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("LEDLINK_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = uint16(n)
	}
	if v := GetEnv("LEDLINK_NINEP_PORT", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("LEDLINK_NINEP_PORT: %w", err)
		}
		cfg.NinepPort = uint16(n)
	}
	if v := GetEnv("LEDLINK_CONNECT_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEDLINK_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	return nil
}
