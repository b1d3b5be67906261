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

// Package spi provides the MFRC522 register transport over SPI
package spi

import (
	"fmt"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/resetpin"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Default SPI settings. The MFRC522 accepts up to 10MHz; 4MHz leaves
	// margin for jumper wires.
	defaultFreq = 4 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0, MSB first

	// maxBurst bounds one register transfer: the whole FIFO plus the
	// trailing dummy byte of a read.
	maxBurst = 64
)

// Transport implements the rfid.Transport interface for SPI communication.
//
// MFRC522 SPI is a byte exchange: every byte clocked out returns the value
// of the register addressed by the previous byte. A read of n bytes sends
// the address n times followed by a dummy 0x00 and keeps rx[1:].
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	reset    *resetpin.Pin
	portName string
	closed   bool
}

// New opens portName (e.g. "/dev/spidev0.0" or "SPI0.0") at the default
// frequency. reset may be nil when NRSTPD is tied high; Init then always
// soft resets.
func New(portName string, reset *resetpin.Pin) (*Transport, error) {
	// Initialize host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	return &Transport{
		port:     port,
		conn:     conn,
		reset:    reset,
		portName: portName,
	}, nil
}

// WriteRegister stores one byte at addr.
func (t *Transport) WriteRegister(addr, value byte) error {
	return t.WriteRegisters(addr, []byte{value})
}

// WriteRegisters sends addr followed by values in one transfer. The chip
// stores every value to the same register.
func (t *Transport) WriteRegisters(addr byte, values []byte) error {
	if err := t.checkOpen("write"); err != nil {
		return err
	}
	if len(values) > maxBurst {
		return fmt.Errorf("%w: %d bytes exceed one transfer", rfid.ErrInvalidParameter, len(values))
	}

	w := make([]byte, 0, len(values)+1)
	w = append(w, addr)
	w = append(w, values...)
	if err := t.conn.Tx(w, nil); err != nil {
		return rfid.NewTransportError("spi write", t.portName, err)
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

// ReadRegisters reads n bytes from addr in one transfer.
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

	w := make([]byte, n+1)
	for i := range n {
		w[i] = addr
	}
	r := make([]byte, n+1)
	if err := t.conn.Tx(w, r); err != nil {
		return nil, rfid.NewTransportError("spi read", t.portName, err)
	}

	data := r[1:]
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
		return false, rfid.NewTransportError("spi reset", t.portName, err)
	}
	return hard, nil
}

// Close closes the SPI port and the reset pin.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var resetErr error
	if t.reset != nil {
		resetErr = t.reset.Close()
	}
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return resetErr
}

// String returns the port name.
func (t *Transport) String() string {
	return "spi:" + t.portName
}

func (t *Transport) checkOpen(op string) error {
	if t.closed {
		return rfid.NewTransportError("spi "+op, t.portName, rfid.ErrTransportClosed)
	}
	return nil
}

var _ rfid.Transport = (*Transport)(nil)
