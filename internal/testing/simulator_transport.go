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

package testing

import (
	"time"

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// RegisterTransport is the register access surface shared by the simulator
// and the wrappers in this package. It mirrors rfid.Transport without
// importing it.
type RegisterTransport interface {
	WriteRegister(addr, value byte) error
	WriteRegisters(addr byte, values []byte) error
	ReadRegister(addr byte) (byte, error)
	ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error)
	Reset() (bool, error)
	Close() error
}

// SimulatorTransport wraps a VirtualMFRC522 and records every register
// write, so tests can check the exact bytes a frame was built from.
type SimulatorTransport struct {
	sim      *VirtualMFRC522
	WriteLog []RegisterWrite
	mu       syncutil.Mutex
}

// RegisterWrite records one write transfer
type RegisterWrite struct {
	Timestamp time.Time
	Values    []byte
	Register  byte
}

// NewSimulatorTransport creates a logging transport backed by sim
func NewSimulatorTransport(sim *VirtualMFRC522) *SimulatorTransport {
	return &SimulatorTransport{sim: sim}
}

// GetSimulator returns the underlying VirtualMFRC522 for test setup
func (t *SimulatorTransport) GetSimulator() *VirtualMFRC522 {
	return t.sim
}

// WriteRegister implements the register transport
func (t *SimulatorTransport) WriteRegister(addr, value byte) error {
	return t.WriteRegisters(addr, []byte{value})
}

// WriteRegisters implements the register transport
func (t *SimulatorTransport) WriteRegisters(addr byte, values []byte) error {
	t.mu.Lock()
	t.WriteLog = append(t.WriteLog, RegisterWrite{
		Register:  (addr & 0x7E) >> 1,
		Values:    append([]byte(nil), values...),
		Timestamp: time.Now(),
	})
	t.mu.Unlock()
	return t.sim.WriteRegisters(addr, values)
}

// ReadRegister implements the register transport
func (t *SimulatorTransport) ReadRegister(addr byte) (byte, error) {
	return t.sim.ReadRegister(addr)
}

// ReadRegisters implements the register transport
func (t *SimulatorTransport) ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error) {
	return t.sim.ReadRegisters(addr, n, rxAlign)
}

// Reset implements the register transport
func (t *SimulatorTransport) Reset() (bool, error) {
	return t.sim.Reset()
}

// Close implements the register transport
func (t *SimulatorTransport) Close() error {
	return t.sim.Close()
}

// ClearWriteLog clears the write log
func (t *SimulatorTransport) ClearWriteLog() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteLog = nil
}

// FIFOFrames returns the FIFO contents loaded before each command, one
// entry per frame. Consecutive FIFO writes are joined.
func (t *SimulatorTransport) FIFOFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var frames [][]byte
	var current []byte
	inFrame := false
	for _, w := range t.WriteLog {
		switch {
		case w.Register == regFIFOData:
			current = append(current, w.Values...)
			inFrame = true
		case w.Register == regCommand && inFrame:
			frames = append(frames, current)
			current = nil
			inFrame = false
		}
	}
	return frames
}

// HasWrite reports whether value was ever written to register index reg.
func (t *SimulatorTransport) HasWrite(reg, value byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.WriteLog {
		if w.Register != reg {
			continue
		}
		for _, b := range w.Values {
			if b == value {
				return true
			}
		}
	}
	return false
}

var (
	_ RegisterTransport = (*VirtualMFRC522)(nil)
	_ RegisterTransport = (*SimulatorTransport)(nil)
)
