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

// Package uart registers the serial reader detector
package uart

import (
	"context"
	"strings"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/detection"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/uart"
	"go.bug.st/serial"
)

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// adapterVIDPIDs are the USB serial bridges found on MFRC522 UART modules
var adapterVIDPIDs = []string{
	"1A86:7523", // QinHeng CH340
	"10C4:EA60", // Silicon Labs CP210x
	"0403:6001", // FTDI FT232
	"067B:2303", // Prolific PL2303
}

var readerKeywords = []string{"mfrc522", "rc522", "rfid", "13.56"}

type detector struct {
	listPorts func() ([]serialPort, error)
}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{listPorts: getSerialPorts}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect probes serial ports for a reader. In safe mode a port that looks
// unrelated is only reported when the chip actually answers.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.listPorts()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		port := &ports[i]
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if opts.Mode == detection.Passive && !isLikelyReader(port) {
			continue
		}

		path := port.Path
		device, ok := detection.ProbePath(ctx, opts, createDeviceInfo(port), func() (rfid.Transport, error) {
			return uart.New(path, nil)
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

func createDeviceInfo(port *serialPort) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport: "uart",
		Path:      port.Path,
		Name:      port.Name,
		Metadata:  make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Manufacturer != "" {
		device.Metadata["manufacturer"] = port.Manufacturer
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// isLikelyReader checks the USB identity of a port for a known bridge or
// a reader product string
func isLikelyReader(port *serialPort) bool {
	for _, known := range adapterVIDPIDs {
		if strings.EqualFold(port.VIDPID, known) {
			return true
		}
	}
	product := strings.ToLower(port.Product + " " + port.Manufacturer)
	for _, keyword := range readerKeywords {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}

// getSerialPorts lists the ports go.bug.st/serial sees and adds USB
// identity where the platform exposes it
func getSerialPorts() ([]serialPort, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]serialPort, 0, len(names))
	for _, name := range names {
		port := serialPort{Path: name, Name: name}
		describePort(&port)
		ports = append(ports, port)
	}
	return ports, nil
}
