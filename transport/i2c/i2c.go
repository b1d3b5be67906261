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

// Package i2c provides the MFRC522 register transport over I2C
package i2c

import (
	"fmt"
	"strconv"
	"strings"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/resetpin"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the 7-bit address with EA low and ADR pins at the
	// common breakout strapping.
	DefaultAddress = 0x28

	// Fast mode; the MFRC522 supports up to 400 kHz (3.4 MHz in HS mode).
	maxClockFreq = 400 * physic.KiloHertz

	maxBurst = 64
)

// Transport implements the rfid.Transport interface for I2C communication.
//
// The I2C host interface addresses registers by their 6-bit index. The
// chip does not auto-increment, so a multi-byte read or write stays on one
// register, which is how the FIFO is drained and filled.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	reset   *resetpin.Pin
	busName string
	closed  bool
}

// parseI2CPath splits "/dev/i2c-1:0x28" into bus and address. A bare bus
// name uses DefaultAddress.
func parseI2CPath(path string) (string, uint16, error) {
	bus, addr, found := strings.Cut(path, ":")
	if !found {
		return bus, DefaultAddress, nil
	}
	v, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", addr, err)
	}
	return bus, uint16(v), nil
}

// New opens busName, optionally suffixed with ":0xNN" to pick a non-default
// address. reset may be nil.
func New(busName string, reset *resetpin.Pin) (*Transport, error) {
	busPath, addr, err := parseI2CPath(busName)
	if err != nil {
		return nil, err
	}

	// Initialize host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busPath, err)
	}
	_ = bus.SetSpeed(maxClockFreq) // Ignore error, continue with default speed

	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		reset:   reset,
		busName: busName,
	}, nil
}

// registerIndex maps an SPI-style address byte to the 6-bit index.
func registerIndex(addr byte) byte {
	return (addr & 0x7E) >> 1
}

// WriteRegister stores one byte at addr.
func (t *Transport) WriteRegister(addr, value byte) error {
	return t.WriteRegisters(addr, []byte{value})
}

// WriteRegisters stores values at addr in one bus transaction.
func (t *Transport) WriteRegisters(addr byte, values []byte) error {
	if err := t.checkOpen("write"); err != nil {
		return err
	}
	if len(values) > maxBurst {
		return fmt.Errorf("%w: %d bytes exceed one transfer", rfid.ErrInvalidParameter, len(values))
	}

	w := make([]byte, 0, len(values)+1)
	w = append(w, registerIndex(addr))
	w = append(w, values...)
	if err := t.dev.Tx(w, nil); err != nil {
		return rfid.NewTransportError("i2c write", t.busName, err)
	}
	return nil
}

// ReadRegister reads one byte from addr.
func (t *Transport) ReadRegister(addr byte) (byte, error) {
	data, err := t.ReadRegisters(addr, 1, 0)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadRegisters writes the register index and reads n bytes after a
// repeated start.
func (t *Transport) ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error) {
	if err := t.checkOpen("read"); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []byte{}, nil
	}
	if n > maxBurst {
		return nil, fmt.Errorf("%w: %d bytes exceed one transfer", rfid.ErrInvalidParameter, n)
	}

	data := make([]byte, n)
	if err := t.dev.Tx([]byte{registerIndex(addr)}, data); err != nil {
		return nil, rfid.NewTransportError("i2c read", t.busName, err)
	}
	rfid.MaskRxAlign(data, rxAlign)
	return data, nil
}

// Reset pulses the chip out of hard power-down through the reset pin.
// Without a reset pin it reports that a soft reset is needed.
func (t *Transport) Reset() (bool, error) {
	if err := t.checkOpen("reset"); err != nil {
		return false, err
	}
	if t.reset == nil {
		return false, nil
	}
	hard, err := t.reset.Reset()
	if err != nil {
		return false, rfid.NewTransportError("i2c reset", t.busName, err)
	}
	return hard, nil
}

// Close closes the I2C bus and the reset pin.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var resetErr error
	if t.reset != nil {
		resetErr = t.reset.Close()
	}
	if t.bus != nil {
		if err := t.bus.Close(); err != nil {
			return fmt.Errorf("I2C close failed: %w", err)
		}
	}
	return resetErr
}

// String returns the bus name.
func (t *Transport) String() string {
	return "i2c:" + t.busName
}

func (t *Transport) checkOpen(op string) error {
	if t.closed {
		return rfid.NewTransportError("i2c "+op, t.busName, rfid.ErrTransportClosed)
	}
	return nil
}

var _ rfid.Transport = (*Transport)(nil)
