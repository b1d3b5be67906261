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

// Package i2c registers the I2C reader detector
package i2c

import (
	"context"
	"fmt"
	"path/filepath"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/detection"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// The address is 0101 followed by the ADR_2..0 pins when EA is low
const (
	firstAddress = 0x28
	lastAddress  = 0x2F
)

type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Detect probes every reader address on every I2C bus. A passive run only
// reports the default address of each bus.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, bus := range listBuses() {
		if detection.IsPathIgnored(bus, opts.IgnorePaths) {
			continue
		}
		last := lastAddress
		if opts.Mode == detection.Passive {
			last = firstAddress
		}
		for addr := firstAddress; addr <= last; addr++ {
			if ctx.Err() != nil {
				return devices, detection.ErrDetectionTimeout
			}
			path := fmt.Sprintf("%s:0x%02X", bus, addr)
			info := detection.DeviceInfo{
				Transport: "i2c",
				Path:      path,
				Name:      fmt.Sprintf("I2C device 0x%02X on %s", addr, bus),
				Metadata:  map[string]string{"bus": bus},
			}
			device, ok := detection.ProbePath(ctx, opts, info, func() (rfid.Transport, error) {
				return i2c.New(path, nil)
			})
			if ok {
				devices = append(devices, device)
			}
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// listBuses returns the buses periph knows, falling back to the device
// nodes when the host drivers cannot load.
func listBuses() []string {
	var buses []string
	if _, err := host.Init(); err == nil {
		for _, ref := range i2creg.All() {
			buses = append(buses, ref.Name)
		}
	}
	if len(buses) == 0 {
		buses, _ = filepath.Glob("/dev/i2c-*")
	}
	return buses
}
