//go:build linux

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

package uart

import (
	"os"
	"path/filepath"
	"strings"
)

const sysTTY = "/sys/class/tty"

// describePort walks up the sysfs device tree of a tty until it finds the
// USB device carrying idVendor and idProduct. Built-in UARTs have none.
func describePort(port *serialPort) {
	port.Name = filepath.Base(port.Path)
	devicePath, err := filepath.EvalSymlinks(filepath.Join(sysTTY, port.Name, "device"))
	if err != nil || !strings.Contains(devicePath, "/usb") {
		return
	}

	current := devicePath
	for range 10 {
		if readUSBIdentifiers(port, current) {
			return
		}
		current = filepath.Dir(current)
		if current == "/" || current == "." {
			return
		}
	}
}

func readUSBIdentifiers(port *serialPort, path string) bool {
	if !strings.HasPrefix(filepath.Clean(path), "/sys/") {
		return false
	}
	vid, ok := readAttr(path, "idVendor")
	if !ok {
		return false
	}
	pid, ok := readAttr(path, "idProduct")
	if !ok {
		return false
	}
	port.VIDPID = strings.ToUpper(vid + ":" + pid)
	port.Manufacturer, _ = readAttr(path, "manufacturer")
	port.Product, _ = readAttr(path, "product")
	port.SerialNumber, _ = readAttr(path, "serial")
	return true
}

func readAttr(dir, name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- under /sys/
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}
