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

// Package uart provides the MFRC522 register transport over UART
package uart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/resetpin"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the MFRC522 UART speed after reset.
	DefaultBaudRate = 9600

	readBit = 0x80

	// readTimeout covers one register reply at 9600 baud with margin.
	readTimeout = 50 * time.Millisecond

	maxBurst = 64
)

var errNoResponse = errors.New("no response from chip")

// Transport implements the rfid.Transport interface for UART communication.
//
// Every register access is one address byte: bit 7 set for a read, the
// 6-bit index below it. A read is answered with the register value; a
// write sends the value after the address and is answered with the address
// byte as an echo.
type Transport struct {
	port     serial.Port
	reset    *resetpin.Pin
	portName string
	closed   bool
}

// New opens portName at DefaultBaudRate. reset may be nil.
func New(portName string, reset *resetpin.Pin) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return &Transport{
		port:     port,
		reset:    reset,
		portName: portName,
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

// WriteRegisters sends one address/value pair per byte and checks that
// every pair is echoed.
func (t *Transport) WriteRegisters(addr byte, values []byte) error {
	if err := t.checkOpen("write"); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if len(values) > maxBurst {
		return fmt.Errorf("%w: %d bytes exceed one transfer", rfid.ErrInvalidParameter, len(values))
	}

	idx := registerIndex(addr)
	w := make([]byte, 0, 2*len(values))
	for _, v := range values {
		w = append(w, idx, v)
	}
	if err := t.send(w); err != nil {
		return rfid.NewTransportError("uart write", t.portName, err)
	}

	echo := make([]byte, len(values))
	if err := t.receive(echo); err != nil {
		return rfid.NewTransportError("uart write", t.portName, err)
	}
	for _, b := range echo {
		if b != idx {
			return rfid.NewTransportError("uart write", t.portName,
				fmt.Errorf("%w: echo 0x%02X for register 0x%02X", rfid.ErrCommunication, b, idx))
		}
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

// ReadRegisters sends the read address n times and collects the n replies.
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

	w := make([]byte, n)
	for i := range w {
		w[i] = readBit | registerIndex(addr)
	}
	if err := t.send(w); err != nil {
		return nil, rfid.NewTransportError("uart read", t.portName, err)
	}

	data := make([]byte, n)
	if err := t.receive(data); err != nil {
		return nil, rfid.NewTransportError("uart read", t.portName, err)
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
		return false, rfid.NewTransportError("uart reset", t.portName, err)
	}
	return hard, nil
}

// Close closes the serial port and the reset pin.
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
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return resetErr
}

// String returns the port name.
func (t *Transport) String() string {
	return "uart:" + t.portName
}

func (t *Transport) checkOpen(op string) error {
	if t.closed {
		return rfid.NewTransportError("uart "+op, t.portName, rfid.ErrTransportClosed)
	}
	return nil
}

// send drops stale input, writes w and waits for it to leave the UART.
func (t *Transport) send(w []byte) error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	n, err := t.port.Write(w)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(w) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(w))
	}
	return t.drainWithRetry()
}

// receive fills buf. A read that returns nothing means the read timeout
// expired.
func (t *Transport) receive(buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := t.port.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %d of %d bytes", errNoResponse, got, len(buf))
		}
		got += n
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	if isEINTR(err) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry() error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

var _ rfid.Transport = (*Transport)(nil)
