// pi4j-example-crowpi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of pi4j-example-crowpi.
//
// pi4j-example-crowpi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// pi4j-example-crowpi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with pi4j-example-crowpi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package spi registers the SPI reader detector
package spi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/detection"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// envDevice names an SPI port to check in addition to the discovered ones
const envDevice = "RFID_SPI_DEVICE"

// Config describes an SPI port a reader may sit on
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Port name (e.g., "/dev/spidev0.0" or "SPI0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
	// GPIO wired to NRSTPD, reported as metadata for the caller
	ResetPin string `json:"reset_pin,omitempty"`
}

type detector struct {
	configPaths []string
}

// New creates a new SPI detector
func New() detection.Detector {
	home, _ := os.UserHomeDir()
	return &detector{configPaths: []string{
		"rfid-spi.json",
		filepath.Join(home, ".config", "rfid", "spi.json"),
		"/etc/rfid/spi.json",
	}}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect probes every known SPI port for a reader
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, config := range d.gatherConfigs() {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device, ok := detection.ProbePath(ctx, opts, createDeviceInfo(config), func() (rfid.Transport, error) {
			return spi.New(config.Device, nil)
		})
		if ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherConfigs collects ports from the config file, the environment and
// the periph registry, in that order, without duplicates.
func (d *detector) gatherConfigs() []Config {
	configs := loadConfigFile(d.configPaths)

	if device := os.Getenv(envDevice); device != "" {
		configs = append(configs, Config{Device: device, Name: "SPI device from environment"})
	}

	if _, err := host.Init(); err == nil {
		for _, ref := range spireg.All() {
			configs = append(configs, Config{Device: ref.Name})
		}
	}

	seen := make(map[string]bool)
	return slices.DeleteFunc(configs, func(c Config) bool {
		dup := c.Device == "" || seen[c.Device]
		seen[c.Device] = true
		return dup
	})
}

func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport: "spi",
		Path:      config.Device,
		Name:      config.Name,
		Metadata:  make(map[string]string, len(config.Metadata)+1),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.ResetPin != "" {
		device.Metadata["reset_pin"] = config.ResetPin
	}
	if device.Name == "" {
		device.Name = "SPI device at " + config.Device
	}
	return device
}

// loadConfigFile reads the first config file found. It holds either a
// list of configs or a single one.
func loadConfigFile(paths []string) []Config {
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // fixed locations
		if err != nil {
			continue
		}

		var configs []Config
		if err := json.Unmarshal(data, &configs); err == nil {
			return configs
		}
		var config Config
		if err := json.Unmarshal(data, &config); err == nil {
			return []Config{config}
		}
		rfid.Debugf("detect: ignoring malformed %s", path)
	}
	return nil
}
