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
	"strings"
	"time"
)

// Configuration errors
var (
	errPinSetup   = errors.New("LED and button pins must be distinct valid pins")
	errPorts      = errors.New("HTTP and 9P ports must differ")
	errNoHTTPPort = errors.New("missing HTTP port")
	errTimeout    = errors.New("connect timeout must be positive")
	errLogLevel   = errors.New("unknown log level")
	errLogFormat  = errors.New("unknown log format")
	errSimAddrs   = errors.New("simulated radio needs STA, DNS and AP addresses")
)

// Pins used by the programs
type Pins struct {
	LED    Pin  `yaml:"led"`
	Button Pin  `yaml:"button"`
	Status *Pin `yaml:"status,omitempty"` // optional status LED (host)
	Valid  Mask `yaml:"valid"`
}

// LoggerConfig selects level and output format of the logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SimConfig describes the upstream network of the simulated radio.
type SimConfig struct {
	Addr         string `yaml:"addr"`    // station address (CIDR)
	DNS          string `yaml:"dns"`     // upstream DNS server
	APAddr       string `yaml:"ap_addr"` // access point address (CIDR)
	JoinFailures int    `yaml:"join_failures"`
}

// Config of a ledlink program
type Config struct {
	Pins           Pins          `yaml:"pins"`
	WiFi           WiFiConfig    `yaml:"wifi"`
	HTTPPort       uint16        `yaml:"http_port"`
	NinepPort      uint16        `yaml:"ninep_port"` // 0: no 9P server
	MDNSName       string        `yaml:"mdns_name"`  // empty: no advertisement
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	NVSPath        string        `yaml:"nvs_path"`
	Logger         LoggerConfig  `yaml:"logger"`
	Sim            SimConfig     `yaml:"sim"`
}

// DefaultConfig returns the build defaults.
func DefaultConfig() *Config {
	return &Config{
		Pins: Pins{
			LED:    2,
			Button: 0,
			Valid:  defaultValidPins,
		},
		WiFi: WiFiConfig{
			AP: APConfig{
				SSID:       "myssid",
				Passphrase: "mypassword",
				Channel:    1,
				MaxConn:    4,
				Auth:       AuthWPA2PSK,
			},
			STA: STAConfig{
				SSID:          "otherapssid",
				Passphrase:    "otherappassword",
				MaxRetry:      5,
				AuthThreshold: AuthWPA2PSK,
			},
		},
		HTTPPort:       defaultHTTPPort,
		NinepPort:      564,
		MDNSName:       "ledlink",
		ConnectTimeout: 30 * time.Second,
		NVSPath:        "ledlink.nvs",
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Sim: SimConfig{
			Addr:   "192.168.1.50/24",
			DNS:    "192.168.1.1",
			APAddr: "192.168.4.1/24",
		},
	}
}

// Validate the configuration. The Wi-Fi part is normalized first.
func (cfg *Config) Validate() error {
	p := cfg.Pins
	if p.LED == p.Button || !p.Valid.Has(p.LED) || !p.Valid.Has(p.Button) {
		return fmt.Errorf("pins %d/%d: %w", p.LED, p.Button, errPinSetup)
	}
	if p.Status != nil && (*p.Status == p.LED || *p.Status == p.Button || !p.Valid.Has(*p.Status)) {
		return fmt.Errorf("status pin %d: %w", *p.Status, errPinSetup)
	}
	cfg.WiFi.Normalize()
	if err := cfg.WiFi.Validate(); err != nil {
		return err
	}
	if cfg.HTTPPort == 0 {
		return errNoHTTPPort
	}
	if cfg.NinepPort == cfg.HTTPPort {
		return errPorts
	}
	if cfg.ConnectTimeout <= 0 {
		return errTimeout
	}
	if _, err := parseLevel(cfg.Logger.Level); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%q: %w", cfg.Logger.Format, errLogFormat)
	}
	if cfg.Sim.Addr == "" || cfg.Sim.DNS == "" || cfg.Sim.APAddr == "" {
		return errSimAddrs
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default.
func GetEnv(name string, defaultValue string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		return defaultValue
	}
	return value
}
